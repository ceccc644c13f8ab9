// Copyright 2025 EngFlow Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package diagnostics

import "regexp"

// notAMemberOfPackage matches scalac's "object foo is not a member of
// package com.example" followed by the offending import line, e.g.:
//
//	object foo is not a member of package com.example
//	 import com.example.foo.bar.Baz
var notAMemberOfPackage = regexp.MustCompile(`object (\S+) is not a member of package (\S+)\s*\n\s*import (\S+)`)

// ScalaRequests extracts ActionRequests from scalac's stderr.
func ScalaRequests(stderr string) []ActionRequest {
	var out []ActionRequest
	if m:= notAMemberOfPackage.FindStringSubmatch(stderr); m != nil {
		// "object foo is not a member of package com.example" together
		// with "import com.example.foo.bar.Baz" tells us the source needs
		// something providing the com.example.foo package/class.
		missingPkg:= m[2] + "." + m[1]
		out = append(out, ActionRequest{
			ClassName: missingPkg,
			ExactOnly: false,
			Priority: 5,
			SrcFn: "scala::extract_not_a_member_of_package",
		})
	}
	return out
}
