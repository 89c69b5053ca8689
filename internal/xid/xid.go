package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a random identifier tagged with prefix, e.g. "hold-3f0c...".
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
