package digestutil

import (
	"bytes"
	"strings"
	"testing"
)

func TestOfAndVerify(t *testing.T) {
	payload:= []byte("hello world")
	d:= Of(payload)
	if err:= VerifyBytes(payload, d); err != nil {
		t.Fatalf("VerifyBytes: %v", err)
	}
	if err:= VerifyBytes([]byte("goodbye"), d); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestHasher(t *testing.T) {
	var buf bytes.Buffer
	h:= NewHasher(&buf)
	if _, err:= h.Write([]byte("chunk-1")); err != nil {
		t.Fatal(err)
	}
	if _, err:= h.Write([]byte("chunk-2")); err != nil {
		t.Fatal(err)
	}
	want:= Of([]byte("chunk-1chunk-2"))
	if h.Digest() != want {
		t.Errorf("Digest = %v, want %v", h.Digest(), want)
	}
	if buf.String() != "chunk-1chunk-2" {
		t.Errorf("underlying writer got %q", buf.String())
	}
}

func TestVerifyReader(t *testing.T) {
	d:= Of([]byte("payload"))
	if err:= Verify(strings.NewReader("payload"), d); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err:= Verify(strings.NewReader("nope"), d); err == nil {
		t.Fatal("expected mismatch")
	}
}

func TestPresenceBucket(t *testing.T) {
	d:= Digest{Hash: strings.Repeat("ab", 32), Size: 4}
	if got:= d.PresenceBucket(); len(got) != 24 {
		t.Errorf("PresenceBucket len = %d, want 24", len(got))
	}
}
