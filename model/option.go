package model

// Option is an explicit "unknown until set" wrapper for values that start
// uninitialized, per spec.md §9 ("widely-shared floats that are
// optional-until-set"). Every consumer must check Valid before reading Value.
type Option[T any] struct {
	Value T
	Valid bool
}

// Some returns a populated Option.
func Some[T any](v T) Option[T] { return Option[T]{Value: v, Valid: true} }

// None returns an empty Option.
func None[T any]() Option[T] { return Option[T]{} }

// Get returns the value and whether it was valid.
func (o Option[T]) Get() (T, bool) { return o.Value, o.Valid }

// Or returns Value if Valid, else the supplied default.
func (o Option[T]) Or(def T) T {
	if o.Valid {
		return o.Value
	}
	return def
}
