package peakcache

import "fmt"

// ComputeError marks a failure that came from the caller's compute function,
// the only error class GetOrCompute surfaces. Unwrap exposes the cause so
// errors.Is and errors.As behave as if compute had been called directly.
type ComputeError struct {
	Key string
	Err error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("compute for cache key %q: %v", e.Key, e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}
