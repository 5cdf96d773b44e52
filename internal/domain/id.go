package domain

import (
	"github.com/google/uuid"
)

// NewID generates a UUIDv7 string for runs, stage runs and staged files.
// UUIDv7 sorts by creation time, which keeps ledger listings and file names ordered.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
