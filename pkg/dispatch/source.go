package dispatch

import "github.com/jwoglom/fakecadence/pkg/attribute"

// ValueSource computes the value of a characteristic for a central read.
// Value may advance internal state, such as a scripted sequence.
type ValueSource interface {
	Value(key attribute.Key) ([]byte, bool)
}

// Peeker is implemented by sources whose Value has side effects. Peek
// returns what Value would return without advancing anything.
type Peeker interface {
	Peek(key attribute.Key) ([]byte, bool)
}

// peek returns src's value for display or write staging.
func peek(src ValueSource, key attribute.Key) ([]byte, bool) {
	if p, ok := src.(Peeker); ok {
		return p.Peek(key)
	}
	return src.Value(key)
}

// ValueSourceFunc adapts a function to a ValueSource.
type ValueSourceFunc func(key attribute.Key) ([]byte, bool)

// Value returns f(key).
func (f ValueSourceFunc) Value(key attribute.Key) ([]byte, bool) {
	return f(key)
}
