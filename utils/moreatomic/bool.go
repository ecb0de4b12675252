// Package moreatomic provides the small typed atomics used across the voice
// packages.
package moreatomic

import "go.uber.org/atomic"

// Bool is an atomic boolean with Get/Set accessors.
type Bool struct {
	v atomic.Bool
}

func (b *Bool) Get() bool {
	return b.v.Load()
}

func (b *Bool) Set(v bool) {
	b.v.Store(v)
}

// CAS sets the boolean to new only if it currently holds old, and reports
// whether the swap happened.
func (b *Bool) CAS(old, new bool) bool {
	return b.v.CAS(old, new)
}
