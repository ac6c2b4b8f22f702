package dispatch

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func testPipe(t *testing.T) (readFd, writeFd int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestReadinessDelivery(t *testing.T) {
	d := newDispatcher(t)
	readFd, writeFd := testPipe(t)

	fired := 0
	d.AddListener(readFd, Read, func(key ListenerKey, events Events) bool {
		fired++
		var buf [8]byte
		unix.Read(readFd, buf[:])
		return false
	})

	if _, err := unix.Write(writeFd, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if !d.DispatchNextEvent() {
		t.Fatal("dispatcher stopped unexpectedly")
	}
	if fired != 1 {
		t.Errorf("callback fired %d times, want 1", fired)
	}
}

func TestInterruptWakesBlockedDispatch(t *testing.T) {
	d := newDispatcher(t)

	done := make(chan bool, 1)
	go func() {
		// Nothing registered: only the interrupt can wake this call.
		done <- d.DispatchNextEvent()
	}()

	time.Sleep(10 * time.Millisecond)
	d.Interrupt()

	select {
	case keep := <-done:
		if !keep {
			t.Error("interrupt alone must not stop the loop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interrupt did not wake the dispatcher")
	}
}

func TestStopTerminatesLoop(t *testing.T) {
	d := newDispatcher(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for d.DispatchNextEvent() {
		}
	}()

	time.Sleep(10 * time.Millisecond)
	d.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not terminate the dispatch loop")
	}
}

func TestCallbackRemovesItself(t *testing.T) {
	d := newDispatcher(t)
	readFd, writeFd := testPipe(t)

	fired := 0
	d.AddListener(readFd, Read, func(key ListenerKey, events Events) bool {
		fired++
		var buf [8]byte
		unix.Read(readFd, buf[:])
		return true // remove this listener
	})

	if _, err := unix.Write(writeFd, []byte{1}); err != nil {
		t.Fatal(err)
	}
	d.DispatchNextEvent()

	// The listener is gone; new data must not reach it. Use an interrupt
	// so the dispatch call returns at all.
	if _, err := unix.Write(writeFd, []byte{2}); err != nil {
		t.Fatal(err)
	}
	d.Interrupt()
	d.DispatchNextEvent()

	if fired != 1 {
		t.Errorf("removed listener fired %d times, want 1", fired)
	}
}

func TestRemoveListener(t *testing.T) {
	d := newDispatcher(t)
	readFd, writeFd := testPipe(t)

	fired := 0
	key := d.AddListener(readFd, Read, func(ListenerKey, Events) bool {
		fired++
		return false
	})
	d.RemoveListener(key)

	if _, err := unix.Write(writeFd, []byte{1}); err != nil {
		t.Fatal(err)
	}
	d.Interrupt()
	d.DispatchNextEvent()

	if fired != 0 {
		t.Errorf("removed listener fired %d times", fired)
	}
}

func TestPollFailureStopsLoop(t *testing.T) {
	d := newDispatcher(t)
	readFd, _ := testPipe(t)

	// poll(2) rejects descriptor sets larger than RLIMIT_NOFILE with
	// EINVAL; lower the limit and register past it to force the failure.
	var saved unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &saved); err != nil {
		t.Fatalf("getrlimit: %v", err)
	}
	lowered := saved
	lowered.Cur = 32
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &lowered); err != nil {
		t.Skipf("cannot lower RLIMIT_NOFILE: %v", err)
	}
	defer unix.Setrlimit(unix.RLIMIT_NOFILE, &saved)

	for i := 0; i < 64; i++ {
		d.AddListener(readFd, Read, func(ListenerKey, Events) bool { return false })
	}

	if d.DispatchNextEvent() {
		t.Error("expected the loop to terminate after a poll failure")
	}
	if d.DispatchNextEvent() {
		t.Error("expected the dispatcher to stay stopped")
	}
}

func TestTwoListeners(t *testing.T) {
	d := newDispatcher(t)
	read1, write1 := testPipe(t)
	read2, write2 := testPipe(t)

	got := map[int]int{}
	drain := func(fd int) {
		var buf [8]byte
		unix.Read(fd, buf[:])
	}
	d.AddListener(read1, Read, func(ListenerKey, Events) bool {
		got[1]++
		drain(read1)
		return false
	})
	d.AddListener(read2, Read, func(ListenerKey, Events) bool {
		got[2]++
		drain(read2)
		return false
	})

	unix.Write(write1, []byte{1})
	unix.Write(write2, []byte{1})

	// Both fds are ready; one dispatch round serves both.
	d.DispatchNextEvent()
	if got[1] != 1 || got[2] != 1 {
		t.Errorf("listener fire counts %v, want both 1", got)
	}
}
