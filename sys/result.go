package sys

import (
	"github.com/cockroachdb/errors"
)

// Result carries either a value or an error through channels and worker pools
// where a (T, error) pair cannot be passed as one value. Both may be set when
// a failed call still produced a partial value.
type Result[T any] struct {
	Ok  T
	Err error
}

// IsErr returns true if the Result contains an error. With checks it only
// returns true when the error matches one of them.
func (r Result[T]) IsErr(checks ...error) bool {
	if len(checks) == 0 {
		return r.Err != nil
	}
	for _, err := range checks {
		if errors.Is(r.Err, err) {
			return true
		}
	}
	return false
}

// Unwrap returns the pair back in Go's usual shape.
func (r Result[T]) Unwrap() (T, error) {
	return r.Ok, r.Err
}

// Ok creates a new Result with a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{Ok: value}
}
