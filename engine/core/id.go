package core

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is the canonical identifier type for all engine-owned records.
type ID string

func NewID() (ID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating id: %w", err)
	}
	return ID(id.String()), nil
}

// MustNewID panics on generation failure; uuid v7 only fails when the
// system clock or entropy source is broken.
func MustNewID() ID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}

func (i ID) String() string {
	return string(i)
}

func (i ID) IsZero() bool {
	return i == ""
}
