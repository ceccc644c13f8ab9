package testtarget

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNearestBuildFileDir(t *testing.T) {
	root:= t.TempDir()
	if err:= os.MkdirAll(filepath.Join(root, "a/b/c"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err:= os.WriteFile(filepath.Join(root, "a/b", "BUILD.bazel"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	dir, ok:= NearestBuildFileDir(root, "a/b/c/Foo.java")
	if !ok {
		t.Fatal("expected to find a BUILD file")
	}
	if dir != "a/b" {
		t.Errorf("got %q, want %q", dir, "a/b")
	}
}

func TestNearestBuildFileDirNotFound(t *testing.T) {
	root:= t.TempDir()
	if err:= os.MkdirAll(filepath.Join(root, "x/y"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, ok:= NearestBuildFileDir(root, "x/y/Foo.java"); ok {
		t.Fatal("expected no BUILD file to be found")
	}
}

func TestResolveSingleOwner(t *testing.T) {
	runner:= func(cwd, query string) ([]string, error) {
		return []string{"//a/b:lib"}, nil
	}
	got, err:= Resolve(runner, "/repo", "a/b/Foo.java", RankAny)
	if err != nil {
		t.Fatal(err)
	}
	if got != "//a/b:lib" {
		t.Errorf("got %q", got)
	}
}

func TestResolveRanksTestOverLibrary(t *testing.T) {
	runner:= func(cwd, query string) ([]string, error) {
		return []string{"//a/b:lib", "//a/b:lib_test"}, nil
	}
	got, err:= Resolve(runner, "/repo", "a/b/FooTest.java", RankTest)
	if err != nil {
		t.Fatal(err)
	}
	if got != "//a/b:lib_test" {
		t.Errorf("got %q, want //a/b:lib_test", got)
	}
}

func TestResolveBreaksTiesBySuffixSimilarity(t *testing.T) {
	runner:= func(cwd, query string) ([]string, error) {
		return []string{"//a/b:other", "//a/b:Foo"}, nil
	}
	got, err:= Resolve(runner, "/repo", "a/b/Foo.java", RankAny)
	if err != nil {
		t.Fatal(err)
	}
	if got != "//a/b:Foo" {
		t.Errorf("got %q, want //a/b:Foo", got)
	}
}

func TestResolveNoOwnerFails(t *testing.T) {
	runner:= func(cwd, query string) ([]string, error) { return nil, nil }
	if _, err:= Resolve(runner, "/repo", "a/b/Foo.java", RankAny); err == nil {
		t.Fatal("expected an error when no target owns the file")
	}
}
