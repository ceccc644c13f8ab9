package bazelproc

import "testing"

func testCatalog() *Catalog {
	return &Catalog{
		Verbs: map[string]string{"build": "Build", "test": "Test"},
		Options: map[string][]ActionOption{
			"Test": {{Name: "test_output", TakesValue: true}, {Name: "cache_test_results", TakesValue: false}},
		},
	}
}

func TestParseSeparatesStartupActionAndRemaining(t *testing.T) {
	cl, err:= Parse([]string{"bazel", "--bazelrc=foo", "test", "--test_output", "all", "//x:y"}, testCatalog())
	if err != nil {
		t.Fatal(err)
	}
	if cl.ToolPath != "bazel" {
		t.Errorf("got tool path %q", cl.ToolPath)
	}
	if len(cl.StartupOptions) != 1 || cl.StartupOptions[0] != "--bazelrc=foo" {
		t.Errorf("got startup options %+v", cl.StartupOptions)
	}
	if cl.Action.Name != "Test" {
		t.Errorf("got action %+v", cl.Action)
	}
	if len(cl.ActionOptions) != 2 {
		t.Errorf("got action options %+v", cl.ActionOptions)
	}
	if len(cl.RemainingArgs) != 1 || cl.RemainingArgs[0] != "//x:y" {
		t.Errorf("got remaining args %+v", cl.RemainingArgs)
	}
}

func TestParseMissingToolPath(t *testing.T) {
	if _, err:= Parse(nil, testCatalog()); err == nil {
		t.Fatal("expected an error")
	}
}

func TestWithRemainingArgsReplacesArgsForTestFileResolution(t *testing.T) {
	cl, err:= Parse([]string{"bazel", "test_file", "src/Foo.java"}, testCatalog())
	if err != nil {
		t.Fatal(err)
	}
	rewritten:= cl.WithRemainingArgs([]string{"//src:Foo"})
	if len(rewritten.RemainingArgs) != 1 || rewritten.RemainingArgs[0] != "//src:Foo" {
		t.Errorf("got %+v", rewritten.RemainingArgs)
	}
}

func TestMergeInjectedFlagsDoesNotDuplicateUserFlag(t *testing.T) {
	out:= MergeInjectedFlags([]string{"--color=no"}, 41000)
	count:= 0
	for _, f:= range out {
		if f == "--color=no" || f == "--color=yes" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one color flag, got %+v", out)
	}
	found:= false
	for _, f:= range out {
		if f == "--bes_backend=grpc://127.0.0.1:41000" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected bes_backend to be injected, got %+v", out)
	}
}

func TestToCamelCase(t *testing.T) {
	if got:= toCamelCase("analyze-profile"); got != "AnalyzeProfile" {
		t.Errorf("got %q", got)
	}
}
