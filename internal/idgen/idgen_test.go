package idgen

import (
	"strings"
	"testing"
)

func TestNew_Format(t *testing.T) {
	id := New()
	parts := strings.Split(id, "-")
	if len(parts) != 5 {
		t.Fatalf("expected 5 dash-separated groups, got %d in %q", len(parts), id)
	}
	if len(id) != 36 {
		t.Errorf("expected 36 chars, got %d in %q", len(id), id)
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("scan_")
	if !strings.HasPrefix(id, "scan_") {
		t.Errorf("expected scan_ prefix, got %q", id)
	}
	if len(id) != len("scan_")+24 {
		t.Errorf("expected prefix + 24 hex chars, got %d chars", len(id))
	}
}
