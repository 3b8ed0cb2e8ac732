package rsync

import (
	"sync/atomic"
)

// AtomicBool is a boolean that can be read and written atomically.
type AtomicBool struct {
	state atomic.Bool
}

func NewAtomicBool() *AtomicBool {
	return &AtomicBool{}
}

func (b *AtomicBool) Is() bool {
	return b.state.Load()
}

func (b *AtomicBool) Set() {
	b.state.Store(true)
}

func (b *AtomicBool) Unset() {
	b.state.Store(false)
}
