package retry

// Outcome is the result of one lookup attempt against a store that may not
// have caught up yet. The zero value is Empty.
type Outcome[T any] struct {
	value T
	found bool
	err   error
}

// Found reports that the lookup returned data.
func Found[T any](v T) Outcome[T] {
	return Outcome[T]{value: v, found: true}
}

// Empty reports that the store has no record yet.
func Empty[T any]() Outcome[T] {
	return Outcome[T]{}
}

// Failed reports that the attempt itself failed. Wrap err with Permanent to
// stop retrying.
func Failed[T any](err error) Outcome[T] {
	return Outcome[T]{err: err}
}

// Value returns the value and whether it was found.
func (o Outcome[T]) Value() (T, bool) { return o.value, o.found }

// Err returns the attempt error, if any.
func (o Outcome[T]) Err() error { return o.err }

func (o Outcome[T]) label() string {
	switch {
	case o.found:
		return "found"
	case o.err != nil:
		return "failed"
	default:
		return "empty"
	}
}
