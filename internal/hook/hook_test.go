package hook

import (
	"context"
	"testing"
	"time"
)

func TestSignalBeforeWaitReturnsUndelivered(t *testing.T) {
	h := New[string, int]()
	v, delivered := h.Signal("mac1", 42)
	if delivered {
		t.Fatal("expected no waiter to be present")
	}
	if v != 42 {
		t.Fatalf("got %d, want 42 (payload handed back)", v)
	}
}

func TestWaitThenSignal(t *testing.T) {
	h := New[string, int]()
	resultCh := make(chan int, 1)
	go func() {
		v, err := h.Wait(context.Background(), "mac1")
		if err != nil {
			t.Errorf("wait: %v", err)
		}
		resultCh <- v
	}()

	// Give the waiter a moment to register.
	time.Sleep(20 * time.Millisecond)
	if _, delivered := h.Signal("mac1", 7); !delivered {
		t.Fatal("expected waiter to receive the signal")
	}
	select {
	case v := <-resultCh:
		if v != 7 {
			t.Fatalf("got %d, want 7", v)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never observed signal")
	}
}

func TestFIFOAmongWaiters(t *testing.T) {
	h := New[string, int]()
	results := make([]chan int, 2)
	for i := 0; i < 2; i++ {
		ch := make(chan int, 1)
		results[i] = ch
		go func() {
			v, _ := h.Wait(context.Background(), "k")
			ch <- v
		}()
		// Let this waiter register before the next one arrives.
		time.Sleep(20 * time.Millisecond)
	}
	h.Signal("k", 1)
	h.Signal("k", 2)

	first := <-results[0]
	second := <-results[1]
	if first != 1 || second != 2 {
		t.Fatalf("got %d,%d want 1,2 (FIFO)", first, second)
	}
}

func TestTimeoutThenSignalSkipsCancelledWaiter(t *testing.T) {
	h := New[string, int]()
	_, err := h.Timeout("k", 20*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("got %v, want ErrTimeout", err)
	}

	// No waiter remains registered; the next signal must report undelivered.
	v, delivered := h.Signal("k", 9)
	if delivered {
		t.Fatal("expected the timed-out waiter to have been deregistered")
	}
	if v != 9 {
		t.Fatalf("got %d, want 9", v)
	}
}

func TestCancelRaceNeverDropsPayload(t *testing.T) {
	h := New[string, int]()
	ctx, cancel := context.WithCancel(context.Background())

	resultCh := make(chan struct {
		v   int
		err error
	}, 1)
	go func() {
		v, err := h.Wait(ctx, "k")
		resultCh <- struct {
			v   int
			err error
		}{v, err}
	}()

	time.Sleep(20 * time.Millisecond)
	// Cancel and signal concurrently; whichever wins, no payload may vanish.
	go cancel()
	_, delivered := h.Signal("k", 99)

	res := <-resultCh
	if delivered && res.err != nil {
		t.Fatalf("signal reported delivery but the waiter returned %v without the payload", res.err)
	}
	if res.err == nil && res.v != 99 {
		t.Fatalf("got %d, want 99", res.v)
	}
}

func TestPollUntilCallsFWhileWaiting(t *testing.T) {
	h := New[string, int]()
	var polls int
	resultCh := make(chan int, 1)
	go func() {
		v, _ := h.PollUntil(context.Background(), "k", 10*time.Millisecond, func() { polls++ })
		resultCh <- v
	}()

	time.Sleep(50 * time.Millisecond)
	h.Signal("k", 5)
	<-resultCh
	if polls == 0 {
		t.Fatal("expected at least one poll tick before signal")
	}
}
