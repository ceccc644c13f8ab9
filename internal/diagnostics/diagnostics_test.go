package diagnostics

import "testing"

func TestS1ScalaMissingDep(t *testing.T) {
	stderr:= "object foo is not a member of package com.example\n import com.example.foo.bar.Baz"
	reqs:= ScalaRequests(stderr)
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1: %+v", len(reqs), reqs)
	}
	want:= ActionRequest{ClassName: "com.example.foo", ExactOnly: false, Priority: 5, SrcFn: "scala::extract_not_a_member_of_package"}
	if reqs[0] != want {
		t.Errorf("got %+v, want %+v", reqs[0], want)
	}
}

func TestS2JavaCannotFindSymbol(t *testing.T) {
	stderr:= "Example.java:16: error: cannot find symbol\n import javax.annotation.Nullable;\n symbol: class Nullable\n location: package javax.annotation"
	reqs:= JavaRequests(stderr)
	if len(reqs) != 1 || reqs[0].ClassName != "javax.annotation.Nullable" || reqs[0].Priority != 1 {
		t.Fatalf("got %+v", reqs)
	}

	expanded:= ExpandAndDedup(reqs)
	var classNames []string
	for _, r:= range expanded {
		classNames = append(classNames, r.ClassName)
	}
	// javax.annotation.Nullable (1), javax.annotation (-50); "javax" alone
	// must not appear (stops before single-segment prefixes).
	if len(expanded) != 2 {
		t.Fatalf("got %d expanded requests, want 2: %+v", len(expanded), expanded)
	}
	if expanded[0].ClassName != "javax.annotation.Nullable" || expanded[0].Priority != 1 {
		t.Errorf("first entry = %+v", expanded[0])
	}
	if expanded[1].ClassName != "javax.annotation" || expanded[1].Priority != -50 {
		t.Errorf("second entry = %+v", expanded[1])
	}
	for _, name:= range classNames {
		if name == "javax" {
			t.Errorf("must not generate single-segment prefix 'javax'")
		}
	}
}

func TestS3TargetDoesNotExist(t *testing.T) {
	desc:= "in deps attribute of java_library rule //x:X: target '//x:y' does not exist"
	proposals:= FromAbort("AnalysisFailure", desc)
	if len(proposals) != 1 || proposals[0].Remove == nil {
		t.Fatalf("got %+v", proposals)
	}
	got:= proposals[0].Remove
	if got.Target != "//x:X" || got.Dependency != "//x:y" {
		t.Errorf("got %+v", got)
	}
}

func TestS3OnlyAnalysisFailureReasonHandled(t *testing.T) {
	desc:= "in deps attribute of java_library rule //x:X: target '//x:y' does not exist"
	if proposals:= FromAbort("LoadingFailure", desc); proposals != nil {
		t.Errorf("expected no proposals for non-AnalysisFailure reason, got %+v", proposals)
	}
}

func TestS4CycleWithPriorAddition(t *testing.T) {
	text:= ".-> //a:a\n | //b:b\n `-- //a:a\n"
	withPrior:= func(target string) map[string]bool {
		if target == "//b:b" {
			return map[string]bool{"//a:a": true}
		}
		return nil
	}
	proposals:= FromCycle(text, withPrior)
	if len(proposals) != 1 || proposals[0].Remove == nil {
		t.Fatalf("got %+v", proposals)
	}
	if proposals[0].Remove.Target != "//b:b" || proposals[0].Remove.Dependency != "//a:a" {
		t.Errorf("got %+v", proposals[0].Remove)
	}

	empty:= func(string) map[string]bool { return nil }
	if proposals:= FromCycle(text, empty); proposals != nil {
		t.Errorf("expected no proposal with empty prior state, got %+v", proposals)
	}
}

func TestNoSuchPackage(t *testing.T) {
	text:= "no such package 'foo/bar': BUILD file not found in any of the following directories...\nreferenced by '//x:X'"
	proposals:= FromProgress(text)
	if len(proposals) != 1 || proposals[0].RemoveDepsLike == nil {
		t.Fatalf("got %+v", proposals)
	}
	got:= proposals[0].RemoveDepsLike
	if got.Target != "//x:X" || got.PackagePath != "foo/bar" {
		t.Errorf("got %+v", got)
	}
}
