package crossbar

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubscriptionDetachDropsEnqueue(t *testing.T) {
	bus := newTestBus(t)
	var received int32
	sub, err := Subscribe[int](bus, "orders.nyse", func(msg Message[int]) error {
		atomic.AddInt32(&received, 1)
		return nil
	}, SubscriptionOptions{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Dispose()

	sub.Detach()
	if !sub.IsDetached() {
		t.Fatal("expected IsDetached true")
	}
	if err := Publish(bus, "orders.nyse", 1, PublishOptions{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&received) != 0 {
		t.Fatal("expected detached subscription to receive nothing")
	}

	sub.Reattach()
	if sub.IsDetached() {
		t.Fatal("expected IsDetached false after Reattach")
	}
	if err := Publish(bus, "orders.nyse", 2, PublishOptions{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&received) == 1 })
}

func TestSubscriptionSuspendGatesDequeueOnly(t *testing.T) {
	bus := newTestBus(t)
	var received int32
	sub, err := Subscribe[int](bus, "orders.nyse", func(msg Message[int]) error {
		atomic.AddInt32(&received, 1)
		return nil
	}, SubscriptionOptions{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Dispose()

	sub.Suspend()
	if !sub.IsSuspended() {
		t.Fatal("expected IsSuspended true")
	}
	if err := Publish(bus, "orders.nyse", 1, PublishOptions{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if sub.QueueLength() != 1 {
		t.Fatalf("expected item to still fill the queue while suspended, got len %d", sub.QueueLength())
	}
	if atomic.LoadInt32(&received) != 0 {
		t.Fatal("expected handler not to run while suspended")
	}

	sub.Resume()
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&received) == 1 })
}

func TestSubscriptionSkipUpdatesDropsUnderPressure(t *testing.T) {
	bus := newTestBus(t)
	block := make(chan struct{})
	var entered int32
	sub, err := Subscribe[int](bus, "orders.nyse", func(msg Message[int]) error {
		atomic.AddInt32(&entered, 1)
		<-block
		return nil
	}, SubscriptionOptions{Capacity: 1, SlowConsumer: SkipUpdates})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer func() {
		close(block)
		sub.Dispose()
	}()

	Publish(bus, "orders.nyse", 1, PublishOptions{})
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&entered) == 1 })

	Publish(bus, "orders.nyse", 2, PublishOptions{})
	Publish(bus, "orders.nyse", 3, PublishOptions{})

	snapshot := sub.Stats(false)
	if snapshot.TotalSkipped == 0 {
		t.Fatal("expected at least one skipped enqueue under SkipUpdates pressure")
	}
}

func TestSubscriptionFailPublishBackpressures(t *testing.T) {
	bus := newTestBus(t)
	block := make(chan struct{})
	var entered int32
	sub, err := Subscribe[int](bus, "orders.nyse", func(msg Message[int]) error {
		atomic.AddInt32(&entered, 1)
		<-block
		return nil
	}, SubscriptionOptions{Capacity: 1, SlowConsumer: FailPublish})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(block) }) }
	defer func() {
		release()
		sub.Dispose()
	}()

	Publish(bus, "orders.nyse", 1, PublishOptions{})
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&entered) == 1 })
	Publish(bus, "orders.nyse", 2, PublishOptions{}) // fills capacity-1 queue

	done := make(chan error, 1)
	go func() {
		done <- Publish(bus, "orders.nyse", 3, PublishOptions{})
	}()

	select {
	case <-done:
		t.Fatal("expected Publish to block while the FailPublish queue is full")
	case <-time.After(20 * time.Millisecond):
	}
	release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected Publish to eventually succeed once drained, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Publish did not unblock after handler drained the queue")
	}
}

func TestSubscriptionConflationKeepsLatestPerKey(t *testing.T) {
	bus := newTestBus(t)
	var mu sync.Mutex
	var seen []int
	sub, err := Subscribe[int](bus, "prices.eur", func(msg Message[int]) error {
		mu.Lock()
		seen = append(seen, msg.Body)
		mu.Unlock()
		return nil
	}, SubscriptionOptions{ConflationInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Dispose()

	Publish(bus, "prices.eur", 1, PublishOptions{Key: "eur", HasKey: true})
	Publish(bus, "prices.eur", 2, PublishOptions{Key: "eur", HasKey: true})
	Publish(bus, "prices.eur", 3, PublishOptions{Key: "eur", HasKey: true})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if seen[0] != 3 {
		t.Fatalf("expected conflation to keep the latest value 3, got %v", seen)
	}
}

func TestSubscriptionHandlerTimeoutInvokesCallback(t *testing.T) {
	bus := newTestBus(t)
	block := make(chan struct{})
	var timedOut int32
	sub, err := Subscribe[int](bus, "orders.nyse", func(msg Message[int]) error {
		<-block
		return nil
	}, SubscriptionOptions{
		HandlerTimeout: 10 * time.Millisecond,
		OnTimeout: func(Envelope) {
			atomic.AddInt32(&timedOut, 1)
		},
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer func() {
		close(block)
		sub.Dispose()
	}()

	Publish(bus, "orders.nyse", 1, PublishOptions{})
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&timedOut) == 1 })

	snapshot := sub.Stats(false)
	if snapshot.NumOfTimeouts != 1 {
		t.Fatalf("expected 1 recorded timeout, got %d", snapshot.NumOfTimeouts)
	}
}

func TestSubscriptionHandlerPanicDoesNotKillLoop(t *testing.T) {
	bus := newTestBus(t)
	var calls int32
	sub, err := Subscribe[int](bus, "orders.nyse", func(msg Message[int]) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("boom")
		}
		return nil
	}, SubscriptionOptions{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Dispose()

	Publish(bus, "orders.nyse", 1, PublishOptions{})
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&calls) == 1 })
	Publish(bus, "orders.nyse", 2, PublishOptions{})
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&calls) == 2 })
}

func TestSubscriptionDisposeIsIdempotent(t *testing.T) {
	bus := newTestBus(t)
	sub, err := Subscribe[int](bus, "orders.nyse", func(msg Message[int]) error { return nil }, SubscriptionOptions{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub.Dispose()
	sub.Dispose()
	if !sub.IsDisposed() {
		t.Fatal("expected IsDisposed true")
	}
}
