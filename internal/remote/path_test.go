package remote

import (
	"errors"
	"testing"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		in         string
		collection string
		key        string
		wantErr    bool
	}{
		{in: "students/s1", collection: "students", key: "s1"},
		{in: "alerts/-Nx1", collection: "alerts", key: "-Nx1"},
		{in: "students", wantErr: true},
		{in: "students/", wantErr: true},
		{in: "/s1", wantErr: true},
		{in: "students/s1/location", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		c, k, err := ParsePath(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidPath) {
				t.Errorf("ParsePath(%q): err = %v, want ErrInvalidPath", tt.in, err)
			}
			continue
		}
		if err != nil || c != tt.collection || k != tt.key {
			t.Errorf("ParsePath(%q) = %q, %q, %v", tt.in, c, k, err)
		}
	}
}

func TestMergeDoc(t *testing.T) {
	out, err := mergeDoc([]byte(`{"a":1,"b":false}`), map[string]any{"b": true})
	if err != nil {
		t.Fatalf("mergeDoc failed: %v", err)
	}
	if string(out) != `{"a":1,"b":true}` {
		t.Errorf("got %s", out)
	}

	out, err = mergeDoc(nil, map[string]any{"x": "y"})
	if err != nil || string(out) != `{"x":"y"}` {
		t.Errorf("empty base: %s, %v", out, err)
	}

	if _, err := mergeDoc([]byte(`[1,2]`), map[string]any{"x": 1}); err == nil {
		t.Error("expected error merging into a non-object")
	}
}
