package bep

import (
	"testing"

	"github.com/bazelfe-go/bazelfe/internal/bepproto"
)

func TestHydratorTargetConfiguredStripsRuleSuffix(t *testing.T) {
	h:= NewHydrator()
	h.Fold(bepproto.Event{TargetConfigured: &bepproto.TargetConfigured{Label: "//x:y", RuleKind: "java_library rule"}})
	out:= h.Fold(bepproto.Event{ActionCompleted: &bepproto.ActionCompleted{Label: "//x:y", Success: true}})
	if len(out) != 1 || out[0].ActionSuccess == nil || out[0].ActionSuccess.Kind != "java_library" {
		t.Fatalf("got %+v", out)
	}
}

func TestHydratorDefersUntilFileSetsArrive(t *testing.T) {
	h:= NewHydrator()
	tc:= &bepproto.TargetCompleted{
		Label: "//x:y",
		Success: true,
		OutputGroups: []bepproto.OutputGroup{
			{Name: "default", FileSetIDs: []string{"set1"}},
		},
	}
	out:= h.Fold(bepproto.Event{TargetCompleted: tc})
	if out != nil {
		t.Fatalf("expected deferral, got %+v", out)
	}

	out = h.Fold(bepproto.Event{NamedSetOfFiles: &bepproto.NamedSetOfFiles{
		ID: "set1",
		Files: []bepproto.File{{Name: "out.jar"}},
	}})
	if len(out) != 1 || out[0].TargetComplete == nil {
		t.Fatalf("expected one TargetComplete, got %+v", out)
	}
	if len(out[0].TargetComplete.OutputFiles) != 1 || out[0].TargetComplete.OutputFiles[0].Name != "out.jar" {
		t.Fatalf("unexpected output files: %+v", out[0].TargetComplete.OutputFiles)
	}
}

func TestHydratorTransitiveFileSets(t *testing.T) {
	h:= NewHydrator()
	h.Fold(bepproto.Event{NamedSetOfFiles: &bepproto.NamedSetOfFiles{
		ID: "child",
		Files: []bepproto.File{{Name: "child.txt"}},
	}})
	h.Fold(bepproto.Event{NamedSetOfFiles: &bepproto.NamedSetOfFiles{
		ID: "parent",
		Files: []bepproto.File{{Name: "parent.txt"}},
		ChildSetIDs: []string{"child"},
	}})
	out:= h.Fold(bepproto.Event{TargetCompleted: &bepproto.TargetCompleted{
		Label: "//x:y",
		Success: true,
		OutputGroups: []bepproto.OutputGroup{{Name: "default", FileSetIDs: []string{"parent"}}},
	}})
	if len(out) != 1 || len(out[0].TargetComplete.OutputFiles) != 2 {
		t.Fatalf("expected 2 files, got %+v", out)
	}
}

func TestHydratorBuildFinishedClearsRuleKindOnly(t *testing.T) {
	h:= NewHydrator()
	h.Fold(bepproto.Event{TargetConfigured: &bepproto.TargetConfigured{Label: "//x:y", RuleKind: "java_library rule"}})
	h.Fold(bepproto.Event{NamedSetOfFiles: &bepproto.NamedSetOfFiles{ID: "set1", Files: []bepproto.File{{Name: "a"}}}})

	out:= h.Fold(bepproto.Event{BuildFinished: true})
	if len(out) != 1 || !out[0].None {
		t.Fatalf("expected sentinel None event, got %+v", out)
	}
	if len(h.ruleKind) != 0 {
		t.Fatalf("expected rule kind map cleared")
	}
	if len(h.fileSets) != 1 {
		t.Fatalf("expected fileSets retained across build boundary")
	}
}

func TestHydratorSessionIndependence(t *testing.T) {
	// Property 1: Feeding E*, Completed, E*, Completed yields the same
	// output prefix for each E* segment independently.
	run:= func() []HydratedEvent {
		h:= NewHydrator()
		h.Fold(bepproto.Event{TargetConfigured: &bepproto.TargetConfigured{Label: "//x:y", RuleKind: "java_library rule"}})
		out1:= h.Fold(bepproto.Event{ActionCompleted: &bepproto.ActionCompleted{Label: "//x:y", Success: false}})
		h.Fold(bepproto.Event{BuildFinished: true})
		out2:= h.Fold(bepproto.Event{ActionCompleted: &bepproto.ActionCompleted{Label: "//x:y", Success: false}})
		return append(out1, out2...)
	}
	a:= run()
	if a[0].ActionFailed.Kind != "java_library" {
		t.Fatalf("first segment should see the kind: %+v", a[0])
	}
	if a[1].ActionFailed.Kind != "" {
		t.Fatalf("second segment should not carry over kind from first: %+v", a[1])
	}
}
