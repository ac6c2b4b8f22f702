package triplebuf

import (
	"sync"
	"testing"
)

func TestLockWithoutPost(t *testing.T) {
	b := New[int]()

	if b.LockNewValue() {
		t.Error("expected no new value on a fresh buffer")
	}
	if got := *b.LockedValue(); got != 0 {
		t.Errorf("expected zero-valued initial slot, got %d", got)
	}
}

func TestPostThenLock(t *testing.T) {
	b := New[int]()

	*b.StartNewValue() = 42
	b.PostNewValue()

	if !b.LockNewValue() {
		t.Fatal("expected a new value after post")
	}
	if got := *b.LockedValue(); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}

	// No intervening post: lock must report false and keep the value.
	if b.LockNewValue() {
		t.Error("expected no new value without an intervening post")
	}
	if got := *b.LockedValue(); got != 42 {
		t.Errorf("locked value changed without a new post: got %d", got)
	}
}

func TestLatestWins(t *testing.T) {
	b := New[int]()

	for i := 1; i <= 5; i++ {
		*b.StartNewValue() = i
		b.PostNewValue()
	}

	if !b.LockNewValue() {
		t.Fatal("expected a new value")
	}
	if got := *b.LockedValue(); got != 5 {
		t.Errorf("expected latest value 5, got %d", got)
	}
}

func TestSlotPreInitSurvives(t *testing.T) {
	b := New[[]int]()
	for i := 0; i < 3; i++ {
		*b.Slot(i) = make([]int, 8)
	}

	s := b.StartNewValue()
	if len(*s) != 8 {
		t.Fatalf("expected pre-allocated slot of len 8, got %d", len(*s))
	}
	(*s)[0] = 7
	b.PostNewValue()

	if !b.LockNewValue() {
		t.Fatal("expected a new value")
	}
	if got := (*b.LockedValue())[0]; got != 7 {
		t.Errorf("expected 7 in adopted slot, got %d", got)
	}
}

// payload is deliberately wide so a torn read has many chances to show up.
type payload struct {
	vals [64]uint64
	sum  uint64
}

func fill(p *payload, seq uint64) {
	var sum uint64
	for i := range p.vals {
		p.vals[i] = seq + uint64(i)
		sum += p.vals[i]
	}
	p.sum = sum
}

func check(p *payload) bool {
	var sum uint64
	for i := range p.vals {
		sum += p.vals[i]
	}
	return sum == p.sum
}

func TestNoTornValues(t *testing.T) {
	const posts = 200000

	b := New[payload]()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for seq := uint64(1); seq <= posts; seq++ {
			fill(b.StartNewValue(), seq)
			b.PostNewValue()
		}
	}()

	go func() {
		defer wg.Done()
		var last uint64
		for last < posts {
			if !b.LockNewValue() {
				continue
			}
			p := b.LockedValue()
			if !check(p) {
				t.Errorf("torn value observed at seq %d", p.vals[0])
				return
			}
			if p.vals[0] < last {
				t.Errorf("value went backwards: %d after %d", p.vals[0], last)
				return
			}
			last = p.vals[0]
		}
	}()

	wg.Wait()
}
