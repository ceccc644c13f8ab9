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

// cannotFindSymbolImport matches javac's "cannot find symbol" block where
// the symbol came from an import, e.g.:
//
//	Example.java:16: error: cannot find symbol
//	 import javax.annotation.Nullable;
//	 symbol: class Nullable
//	 location: package javax.annotation
var cannotFindSymbolImport = regexp.MustCompile(`cannot find symbol\s*\n\s*import ([\w.]+)\.(\w+);`)

// JavaRequests extracts ActionRequests from javac's "cannot find symbol"
// diagnostics.
func JavaRequests(stderr string) []ActionRequest {
	var out []ActionRequest
	if m:= cannotFindSymbolImport.FindStringSubmatch(stderr); m != nil {
		className:= m[1] + "." + m[2]
		out = append(out, ActionRequest{
			ClassName: className,
			ExactOnly: false,
			Priority: 1,
			SrcFn: "java::extract_cannot_find_symbol",
		})
	}
	return out
}
