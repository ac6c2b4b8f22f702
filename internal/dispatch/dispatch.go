// Package dispatch implements a single-threaded I/O reactor: readiness
// multiplexing over registered socket descriptors plus a cross-thread
// interrupt, with graceful shutdown.
//
// Exactly one goroutine calls DispatchNextEvent in a loop; callbacks run on
// that goroutine only. Interrupt and Stop may be called from any goroutine
// and reliably wake a dispatch call blocked inside poll(2) through an
// internal self-pipe registered like any other descriptor.
package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/Faultbox/sandtable/internal/logger"
)

// Events selects the readiness conditions a listener is interested in.
type Events int16

const (
	// Read fires when the descriptor becomes readable.
	Read Events = unix.POLLIN
	// Write fires when the descriptor becomes writable.
	Write Events = unix.POLLOUT
)

// ListenerKey identifies a registered listener.
type ListenerKey uint32

// Callback handles a readiness event for one listener. Returning true
// removes the listener: a callback that discovers its connection is broken
// signals removal through the return value instead of mutating the listener
// set reentrantly.
type Callback func(key ListenerKey, events Events) bool

type listener struct {
	fd     int
	events Events
	cb     Callback
}

// Dispatcher multiplexes readiness events for any number of descriptors.
// The zero value is not usable; call New.
type Dispatcher struct {
	mu        sync.Mutex
	listeners map[ListenerKey]*listener
	nextKey   ListenerKey

	// Self-pipe; the read end is polled alongside the listeners.
	wakeRead  int
	wakeWrite int

	stopped atomic.Bool

	// Scratch buffers reused across dispatch calls; owned by the dispatch
	// goroutine.
	pollFds  []unix.PollFd
	pollKeys []ListenerKey
}

// New returns a ready dispatcher.
func New() (*Dispatcher, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("creating wakeup pipe: %w", err)
	}
	return &Dispatcher{
		listeners: make(map[ListenerKey]*listener),
		nextKey:   1,
		wakeRead:  fds[0],
		wakeWrite: fds[1],
	}, nil
}

// AddListener registers interest in the given readiness events on fd and
// returns the listener's key. Safe to call from any goroutine.
func (d *Dispatcher) AddListener(fd int, events Events, cb Callback) ListenerKey {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := d.nextKey
	d.nextKey++
	d.listeners[key] = &listener{fd: fd, events: events, cb: cb}
	return key
}

// RemoveListener deregisters a listener. Safe to call from any goroutine;
// removing an unknown key is a no-op. A listener must not remove itself
// from inside its own callback; it returns true instead.
func (d *Dispatcher) RemoveListener(key ListenerKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.listeners, key)
}

// Interrupt wakes the current or next DispatchNextEvent call even when no
// descriptor is ready. Safe to call from any goroutine.
func (d *Dispatcher) Interrupt() {
	// A full pipe already guarantees a pending wakeup; EAGAIN is fine.
	var one = [1]byte{0}
	_, _ = unix.Write(d.wakeWrite, one[:])
}

// Stop makes the dispatch loop terminate after the current callback
// returns. Safe to call from any goroutine; the caller must still join the
// goroutine running the loop.
func (d *Dispatcher) Stop() {
	d.stopped.Store(true)
	d.Interrupt()
}

// Close releases the self-pipe. Call only after the dispatch loop has
// terminated and its goroutine has been joined.
func (d *Dispatcher) Close() {
	unix.Close(d.wakeRead)
	unix.Close(d.wakeWrite)
}

// DispatchNextEvent blocks until at least one registered descriptor is
// ready or the dispatcher is interrupted, invokes the ready listeners'
// callbacks, applies their removal requests, and reports whether the loop
// should keep running.
func (d *Dispatcher) DispatchNextEvent() bool {
	if d.stopped.Load() {
		return false
	}

	// Snapshot the listener set; callbacks run without the lock held.
	d.mu.Lock()
	d.pollFds = d.pollFds[:0]
	d.pollKeys = d.pollKeys[:0]
	d.pollFds = append(d.pollFds, unix.PollFd{Fd: int32(d.wakeRead), Events: unix.POLLIN})
	d.pollKeys = append(d.pollKeys, 0)
	for key, l := range d.listeners {
		d.pollFds = append(d.pollFds, unix.PollFd{Fd: int32(l.fd), Events: int16(l.events)})
		d.pollKeys = append(d.pollKeys, key)
	}
	d.mu.Unlock()

	for {
		n, err := unix.Poll(d.pollFds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			// Poll failures other than EINTR do not fix themselves;
			// retrying would spin. Terminate the loop.
			logger.Error("poll failed, stopping dispatcher", zap.Error(err))
			d.stopped.Store(true)
			return false
		}
		if n == 0 {
			return !d.stopped.Load()
		}
		break
	}

	if d.pollFds[0].Revents != 0 {
		d.drainWakePipe()
	}

	var dead []ListenerKey
	for i := 1; i < len(d.pollFds); i++ {
		re := d.pollFds[i].Revents
		if re == 0 {
			continue
		}
		key := d.pollKeys[i]
		d.mu.Lock()
		l := d.listeners[key]
		d.mu.Unlock()
		if l == nil {
			continue // removed by an earlier callback this round
		}
		// Error and hangup conditions are delivered to the callback as the
		// events it asked for; its read or write will surface the failure.
		if l.cb(key, Events(re)) {
			dead = append(dead, key)
		}
	}
	for _, key := range dead {
		d.RemoveListener(key)
	}

	return !d.stopped.Load()
}

func (d *Dispatcher) drainWakePipe() {
	var buf [64]byte
	for {
		n, err := unix.Read(d.wakeRead, buf[:])
		if n < len(buf) || err != nil {
			return
		}
	}
}
