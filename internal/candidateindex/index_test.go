package candidateindex

import (
	"bytes"
	"testing"
)

func TestInsertWithIDMonotonicity(t *testing.T) {
	tbl:= New()
	if tbl.Mutated() {
		t.Fatal("new table should not be mutated")
	}

	changed:= tbl.InsertWithID("com.example.Foo", "//x:a", 5)
	if !changed {
		t.Fatal("first insert should report mutation")
	}
	if !tbl.Mutated() {
		t.Fatal("mutated flag should be set")
	}

	tbl.ClearMutated()
	changed = tbl.InsertWithID("com.example.Foo", "//x:a", 5)
	if changed {
		t.Fatal("re-inserting the same priority should be a no-op")
	}
	if tbl.Mutated() {
		t.Fatal("mutated flag should remain cleared after a no-op insert")
	}

	changed = tbl.InsertWithID("com.example.Foo", "//x:a", 9)
	if !changed {
		t.Fatal("changing priority should report mutation")
	}
	candidates:= tbl.Lookup("com.example.Foo")
	if len(candidates) != 1 || candidates[0].Priority != 9 {
		t.Fatalf("got %+v", candidates)
	}
}

func TestPriorityOrderingAndTieBreak(t *testing.T) {
	tbl:= New()
	tbl.InsertWithID("k", "//x:low", 1)
	tbl.InsertWithID("k", "//x:high", 9)
	tbl.InsertWithID("k", "//x:mid-first", 5)
	tbl.InsertWithID("k", "//x:mid-second", 5)

	got:= tbl.Lookup("k")
	want:= []string{"//x:high", "//x:mid-first", "//x:mid-second", "//x:low"}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i, w:= range want {
		if got[i].Target != w {
			t.Errorf("index %d: got %s, want %s", i, got[i].Target, w)
		}
	}
}

func TestNoDuplicateTargetIDs(t *testing.T) {
	tbl:= New()
	tbl.InsertWithID("k", "//x:a", 1)
	tbl.InsertWithID("k", "//x:a", 2)
	tbl.InsertWithID("k", "//x:a", 3)
	got:= tbl.Lookup("k")
	if len(got) != 1 {
		t.Fatalf("expected a single coalesced entry, got %+v", got)
	}
}

func TestLookupSuffix(t *testing.T) {
	tbl:= New()
	tbl.InsertWithID("com.example.Foo", "//x:a", 1)
	tbl.InsertWithID("org.other.Foo", "//y:b", 2)
	tbl.InsertWithID("com.example.Bar", "//z:c", 3)

	got:= tbl.LookupSuffix(".Foo")
	if len(got) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got[0].Target != "//y:b" {
		t.Errorf("expected higher-priority candidate first, got %+v", got)
	}
}

func TestGuessFallback(t *testing.T) {
	tbl:= New()
	candidates:= tbl.LookupOrGuess("com.example.foo.Bar", false)
	if len(candidates) == 0 {
		t.Fatal("expected guesses")
	}
	for _, c:= range candidates {
		if c.Priority != 0 {
			t.Errorf("guesses must carry priority 0, got %+v", c)
		}
	}
	want:= "//src/main/scala/com/example/foo:foo"
	if candidates[0].Target != want {
		t.Errorf("got %q, want %q", candidates[0].Target, want)
	}

	if exact:= tbl.LookupOrGuess("com.example.foo.Bar", true); exact != nil {
		t.Errorf("exact_only should suppress guesses, got %+v", exact)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tbl:= New()
	tbl.InsertWithID("com.example.Foo", "//x:a", 5)
	tbl.InsertWithID("com.example.Foo", "//x:b", -3)
	tbl.SetPopularity("//x:a", 42)
	tbl.SetJarCtime("//x:a", 1700000000)
	tbl.SetAlias("//x:old", "//x:a")

	var buf bytes.Buffer
	if err:= tbl.Encode(&buf); err != nil {
		t.Fatal(err)
	}

	decoded, err:= Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	got:= decoded.Lookup("com.example.Foo")
	if len(got) != 2 || got[0].Target != "//x:a" || got[0].Priority != 5 {
		t.Fatalf("got %+v", got)
	}
	if decoded.Popularity("//x:a") != 42 {
		t.Errorf("popularity not preserved: %d", decoded.Popularity("//x:a"))
	}
	if decoded.JarCtime("//x:a") != 1700000000 {
		t.Errorf("ctime not preserved: %d", decoded.JarCtime("//x:a"))
	}
}
