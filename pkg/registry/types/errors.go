package types

import (
	"fmt"
)

type ErrEmpty struct {
	Field string
}

func (e ErrEmpty) Error() string {
	return fmt.Sprintf("%s cannot be empty", e.Field)
}

// ErrImmutable is returned when a caller attempts to change a field that may
// only be set once.
type ErrImmutable struct {
	Field string
}

func (e ErrImmutable) Error() string {
	return fmt.Sprintf("%s cannot be changed once set", e.Field)
}
