package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		id := New("hold")
		if !strings.HasPrefix(id, "hold-") {
			t.Fatalf("expected hold- prefix, got %s", id)
		}
		if _, err := uuid.Parse(strings.TrimPrefix(id, "hold-")); err != nil {
			t.Fatalf("expected uuid suffix, got %s: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
