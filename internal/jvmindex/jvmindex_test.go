package jvmindex

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bazelfe-go/bazelfe/internal/bep"
	"github.com/bazelfe-go/bazelfe/internal/bepproto"
	"github.com/bazelfe-go/bazelfe/internal/candidateindex"
)

func TestTransformFileNamesIntoClassNames(t *testing.T) {
	in:= []string{
		"scala/reflect/internal/SymbolPairs$Cursor$$anon$1.class",
		"scala/reflect/internal/SymbolPairs$Cursor$$anon$2.class",
		"scala/reflect/internal/Depth$.class",
		"scala/reflect/internal/Depth.class",
		"com/android/aapt/Resources$AllowNew$Builder.class",
		"com/android/aapt/Resources$AllowNew.class",
		"META-INF/MANIFEST.MF",
	}
	want:= []string{
		"com.android.aapt.Resources.AllowNew",
		"com.android.aapt.Resources.AllowNew.Builder",
		"scala.reflect.internal.Depth",
		"scala.reflect.internal.SymbolPairs.Cursor",
	}
	got:= TransformFileNamesIntoClassNames(in)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i:= range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func writeTestJar(t *testing.T, entries...string) string {
	t.Helper()
	path:= filepath.Join(t.TempDir(), "out.jar")
	f, err:= os.Create(path)
	if err != nil {
		t.Fatalf("creating jar: %v", err)
	}
	defer f.Close()

	zw:= zip.NewWriter(f)
	for _, name:= range entries {
		w, err:= zw.Create(name)
		if err != nil {
			t.Fatalf("creating entry %s: %v", name, err)
		}
		if _, err:= w.Write([]byte("stub")); err != nil {
			t.Fatalf("writing entry %s: %v", name, err)
		}
	}
	if err:= zw.Close(); err != nil {
		t.Fatalf("closing jar: %v", err)
	}
	return path
}

func TestExtractClassNames(t *testing.T) {
	path:= writeTestJar(t, "com/acme/Widget.class", "com/acme/Widget$1.class", "META-INF/MANIFEST.MF")
	got, err:= ExtractClassNames(path)
	if err != nil {
		t.Fatalf("ExtractClassNames: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestConsumeIndexesAllowedTargetComplete(t *testing.T) {
	jarPath:= writeTestJar(t, "com/acme/Widget.class")
	table:= candidateindex.New()
	ix:= New(table, []string{"scala_library"})

	events:= make(chan bep.HydratedEvent, 2)
	events <- bep.HydratedEvent{TargetComplete: &bep.TargetComplete{
		Label: "//com/acme:widget",
		Kind: "scala_library",
		Success: true,
		OutputFiles: []bepproto.File{{URI: "file://" + jarPath}},
	}}
	close(events)

	ix.Consume(context.Background(), events)

	candidates:= table.Lookup("com.acme.Widget")
	if len(candidates) != 1 || candidates[0].Target != "//com/acme:widget" {
		t.Fatalf("got %v, want a single candidate //com/acme:widget", candidates)
	}
}

func TestConsumeSkipsDisallowedRuleKind(t *testing.T) {
	jarPath:= writeTestJar(t, "com/acme/Widget.class")
	table:= candidateindex.New()
	ix:= New(table, []string{"scala_library"})

	events:= make(chan bep.HydratedEvent, 1)
	events <- bep.HydratedEvent{TargetComplete: &bep.TargetComplete{
		Label: "//com/acme:widget",
		Kind: "java_binary",
		Success: true,
		OutputFiles: []bepproto.File{{URI: "file://" + jarPath}},
	}}
	close(events)

	ix.Consume(context.Background(), events)

	if got:= table.Lookup("com.acme.Widget"); len(got) != 0 {
		t.Fatalf("got %v, want no candidates", got)
	}
}
