// Package triplebuf provides a wait-free single-producer/single-consumer
// latest-value exchange over three pre-allocated storage slots.
//
// The producer mutates one slot at a time and publishes it; the consumer
// adopts the most recently published slot. Neither side ever waits for the
// other, and the consumer never observes a slot under mutation. If the
// producer publishes faster than the consumer locks, intermediate values
// are dropped: only the latest value matters.
package triplebuf

import "sync/atomic"

// state word layout: bits 0-1 hold the index of the ready ("middle") slot,
// bit 2 is set when that slot holds a value the consumer has not locked yet.
const (
	slotMask = 0x3
	newFlag  = 0x4
)

// TripleBuffer exchanges values of type T between exactly one producer
// goroutine and exactly one consumer goroutine. The zero value is not
// usable; call New.
type TripleBuffer[T any] struct {
	slots [3]T

	// state holds the ready slot index plus the new-value flag. It is the
	// only field touched by both sides.
	state atomic.Uint32

	write  int // producer-owned: slot currently being written
	locked int // consumer-owned: slot currently locked for reading
}

// New returns a triple buffer with three zero-valued slots. Slots that need
// pre-allocation (backing arrays etc.) can be initialized through Slot
// before the first StartNewValue/LockNewValue call.
func New[T any]() *TripleBuffer[T] {
	b := &TripleBuffer[T]{write: 2, locked: 0}
	b.state.Store(1) // middle slot, no new value
	return b
}

// Slot returns a pointer to storage slot i (0..2). It must only be used to
// initialize slot contents before the buffer is shared between goroutines.
func (b *TripleBuffer[T]) Slot(i int) *T {
	return &b.slots[i]
}

// StartNewValue returns the slot the producer may mutate next. The returned
// pointer stays valid until the matching PostNewValue call.
func (b *TripleBuffer[T]) StartNewValue() *T {
	return &b.slots[b.write]
}

// PostNewValue publishes the slot obtained from StartNewValue. The producer
// reclaims the previously ready slot as its next write target; the consumer's
// locked slot is never handed out, so a locked value is never overwritten.
func (b *TripleBuffer[T]) PostNewValue() {
	old := b.state.Swap(newFlag | uint32(b.write))
	b.write = int(old & slotMask)
}

// LockNewValue adopts the most recently posted slot if one has been posted
// since the last call, handing the previously locked slot back as the new
// middle slot. It reports whether a new value was adopted; when it returns
// false the locked value is unchanged.
func (b *TripleBuffer[T]) LockNewValue() bool {
	if b.state.Load()&newFlag == 0 {
		return false
	}
	// The flag is only cleared here, on the consumer side, so it is still
	// set at the swap even if the producer posted again in between.
	old := b.state.Swap(uint32(b.locked))
	b.locked = int(old & slotMask)
	return true
}

// LockedValue returns the slot most recently adopted by LockNewValue. The
// pointer stays valid until the next LockNewValue call.
func (b *TripleBuffer[T]) LockedValue() *T {
	return &b.slots[b.locked]
}
