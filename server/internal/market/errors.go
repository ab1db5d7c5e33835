package market

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for bad caller input (an empty search query).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when an item id is absent from the current snapshot.
	ErrNotFound = errors.New("not found")

	// ErrShape is matched by every *ShapeError via errors.Is.
	ErrShape = errors.New("malformed product entry")
)

// ShapeError reports a product entry that is missing a required field or
// carries a field of the wrong type.
type ShapeError struct {
	ItemID string
	Field  string
	Err    error
}

func (e *ShapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("product %q: field %q: %v", e.ItemID, e.Field, e.Err)
	}
	return fmt.Sprintf("product %q: field %q is missing", e.ItemID, e.Field)
}

func (e *ShapeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrShape) match any ShapeError.
func (e *ShapeError) Is(target error) bool { return target == ErrShape }
