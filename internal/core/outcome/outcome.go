// Package outcome carries the ok / skipped / fatal result of one unit of pipeline work.
package outcome

import "fmt"

type Kind int

const (
	KindOk Kind = iota
	KindSkipped
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindOk:
		return "ok"
	case KindSkipped:
		return "skipped"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is a tagged union. Only the field matching Kind is meaningful.
type Result[T any] struct {
	kind   Kind
	value  T
	reason string
	err    error
}

func Ok[T any](v T) Result[T] { return Result[T]{kind: KindOk, value: v} }

// Skip marks the unit as degraded; err, when non-nil, is kept for logging only.
func Skip[T any](reason string, err error) Result[T] {
	return Result[T]{kind: KindSkipped, reason: reason, err: err}
}

func Fatal[T any](err error) Result[T] {
	if err == nil {
		err = fmt.Errorf("fatal outcome without cause")
	}
	return Result[T]{kind: KindFatal, err: err}
}

func (r Result[T]) Kind() Kind      { return r.kind }
func (r Result[T]) IsOk() bool      { return r.kind == KindOk }
func (r Result[T]) IsSkipped() bool { return r.kind == KindSkipped }
func (r Result[T]) IsFatal() bool   { return r.kind == KindFatal }
func (r Result[T]) Reason() string  { return r.reason }
func (r Result[T]) Err() error      { return r.err }

// Value returns the payload and whether the result is Ok.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.kind == KindOk
}

func (r Result[T]) String() string {
	switch r.kind {
	case KindOk:
		return "ok"
	case KindSkipped:
		return "skipped: " + r.reason
	default:
		return "fatal: " + r.err.Error()
	}
}
