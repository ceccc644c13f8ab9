package label

import "testing"

func TestSanitize(t *testing.T) {
	cases:= []struct {
		in, want string
	}{
		{"a/b/c", "a/b/c:c"},
		{"a/b/c:x", "a/b/c:x"},
		{"a/b/c:x_auto_gen_y", "a/b/c:x"},
		{"//a/b/c", "//a/b/c:c"},
		{"//a/b/c:x_auto_gen_yz123", "//a/b/c:x"},
	}
	for _, c:= range cases {
		if got:= Sanitize(c.in); got != c.want {
			t.Errorf("Sanitize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	l, err:= Parse("//foo/bar:baz_auto_gen_1")
	if err != nil {
		t.Fatal(err)
	}
	if l.Pkg != "foo/bar" || l.Name != "baz" {
		t.Errorf("Parse = %+v, want pkg=foo/bar name=baz", l)
	}
}
