package util

import (
	"github.com/google/uuid"
)

// IsValidUUID reports whether s is a UUID in the canonical 36-character form.
func IsValidUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
