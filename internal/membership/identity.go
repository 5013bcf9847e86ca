package membership

import (
	"github.com/google/uuid"
)

// NewIdentity generates a random replica hostname.
func NewIdentity() string {
	return "replica-" + uuid.NewString()[:8]
}
