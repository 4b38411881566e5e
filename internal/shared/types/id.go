package types

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is a UUID string
type ID string

// NewID generates a random (v4) ID
func NewID() ID {
	return ID(uuid.New().String())
}

// ParseID validates s as a UUID
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid ID: %w", err)
	}
	return ID(u.String()), nil
}

func (id ID) String() string {
	return string(id)
}

func (id ID) IsZero() bool {
	return id == ""
}

// Prefix returns the first n characters, or the whole ID when shorter
func (id ID) Prefix(n int) string {
	if len(id) <= n {
		return string(id)
	}
	return string(id[:n])
}
