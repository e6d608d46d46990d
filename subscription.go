package crossbar

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// subState is the subscription's lifecycle state (§4.5 state machine):
// Created -> Running -> {Suspended <-> Running} -> Disposed. Detachment is a
// separate boolean attribute tracked on Subscription, orthogonal to this.
type subState int32

const (
	stateCreated subState = iota
	stateRunning
	stateSuspended
	stateDisposed
)

// envelopeHandler is the type-erased handler signature stored on a
// Subscription; Subscribe[T] wraps the user's func(Message[T]) error into
// this shape, asserting Body back to T.
type envelopeHandler func(*Envelope) error

// Subscription is a consumer's attachment to one channel or wildcard
// pattern: a bounded or unbounded queue, the dequeue/process loop, the
// conflation accumulator, and suspend/detach/dispose state (§4.5).
type Subscription struct {
	id          uint64
	name        string
	pattern     string
	wildcard    bool
	bodyType    reflect.Type
	bus         *Bus

	capacity     int
	slowConsumer SlowConsumerStrategy
	handlerTimeout time.Duration
	onTimeout    func(Envelope)
	fetchState   bool

	handler envelopeHandler
	stats   *StatsTracker

	queue *subQueue
	state int32 // atomic subState

	detached int32 // atomic bool

	suspendGate *waitGate

	stop      chan struct{}
	stopOnce  sync.Once
	loopDone  chan struct{}

	conflationInterval time.Duration
	conflMu            sync.Mutex
	conflOrder         []string
	conflValues        map[string]*Envelope
	conflTicker        *time.Ticker
	conflDone          chan struct{}

	attachMu sync.Mutex
	attached map[string]*channel
}

// newSubscription constructs a Subscription and starts its dequeue loop and,
// if configured, its conflation flusher. It is not yet attached to any
// channel; the caller (Bus.subscribeInternal) handles attachment.
func newSubscription(bus *Bus, id uint64, name, pattern string, wildcard bool, bodyType reflect.Type, opts SubscriptionOptions, handler envelopeHandler) *Subscription {
	sub := &Subscription{
		id:                 id,
		name:               name,
		pattern:            pattern,
		wildcard:           wildcard,
		bodyType:           bodyType,
		bus:                bus,
		capacity:           opts.Capacity,
		slowConsumer:       opts.SlowConsumer,
		handlerTimeout:     opts.HandlerTimeout,
		onTimeout:          opts.OnTimeout,
		fetchState:         opts.FetchState,
		handler:            handler,
		stats:              NewStatsTracker(opts.Stats),
		queue:              newSubQueue(opts.Capacity),
		suspendGate:        newWaitGate(),
		stop:               make(chan struct{}),
		loopDone:           make(chan struct{}),
		conflationInterval: opts.ConflationInterval,
		conflValues:        make(map[string]*Envelope),
		attached:           make(map[string]*channel),
	}
	atomic.StoreInt32(&sub.state, int32(stateRunning))
	go sub.loop()
	if sub.conflationInterval > 0 {
		sub.conflDone = make(chan struct{})
		sub.conflTicker = time.NewTicker(sub.conflationInterval)
		go sub.conflationFlusher()
	}
	return sub
}

// ID returns the subscription's stable identifier.
func (s *Subscription) ID() uint64 { return s.id }

// Name returns the subscription's display name.
func (s *Subscription) Name() string { return s.name }

// Pattern returns the channel name or wildcard pattern this subscription was
// created with.
func (s *Subscription) Pattern() string { return s.pattern }

// QueueLength reports the number of envelopes currently buffered.
func (s *Subscription) QueueLength() int { return s.queue.len() }

// Stats returns the current StatsSnapshot, optionally resetting the interval
// window.
func (s *Subscription) Stats(reset bool) StatsSnapshot { return s.stats.GetStats(reset) }

// IsDetached reports whether the subscription currently discards incoming
// envelopes at the enqueue boundary.
func (s *Subscription) IsDetached() bool { return atomic.LoadInt32(&s.detached) != 0 }

// IsDisposed reports whether Dispose has been called on this subscription.
func (s *Subscription) IsDisposed() bool {
	return subState(atomic.LoadInt32(&s.state)) == stateDisposed
}

// Detach causes all further enqueue attempts to be silently dropped, as if
// the subscription did not exist (invariant U2). It does not affect items
// already queued.
func (s *Subscription) Detach() { atomic.StoreInt32(&s.detached, 1) }

// Reattach reverses Detach.
func (s *Subscription) Reattach() { atomic.StoreInt32(&s.detached, 0) }

// Suspend gates the dequeue side only: the queue continues to fill per
// normal slow-consumer rules, but the handler loop blocks until Resume
// (invariant U3).
func (s *Subscription) Suspend() {
	atomic.CompareAndSwapInt32(&s.state, int32(stateRunning), int32(stateSuspended))
	s.suspendGate.engage()
}

// Resume lifts a prior Suspend.
func (s *Subscription) Resume() {
	atomic.CompareAndSwapInt32(&s.state, int32(stateSuspended), int32(stateRunning))
	s.suspendGate.release()
}

// IsSuspended reports whether the dequeue side is currently gated.
func (s *Subscription) IsSuspended() bool { return s.suspendGate.isEngaged() }

// trackAttachment records that this subscription is attached to channel c,
// so Dispose can detach it from every channel it was ever attached to (U4).
func (s *Subscription) trackAttachment(c *channel) {
	s.attachMu.Lock()
	s.attached[c.name] = c
	s.attachMu.Unlock()
}

func (s *Subscription) untrackAttachment(name string) {
	s.attachMu.Lock()
	delete(s.attached, name)
	s.attachMu.Unlock()
}

// enqueue is the fan-out entry point invoked by Bus.Publish for every
// envelope this subscription should receive. It implements §4.5's enqueue
// rules: detachment drop, conflation accumulation, or direct queueing with
// the configured slow-consumer policy.
func (s *Subscription) enqueue(envelope *Envelope) error {
	if s.IsDetached() {
		s.stats.RecordEnqueue(true)
		return nil
	}
	if s.conflationInterval > 0 {
		s.conflMu.Lock()
		if _, exists := s.conflValues[envelope.Key]; !exists {
			s.conflOrder = append(s.conflOrder, envelope.Key)
		}
		s.conflValues[envelope.Key] = envelope
		s.conflMu.Unlock()
		s.stats.RecordEnqueue(false)
		return nil
	}

	switch s.slowConsumer {
	case FailPublish:
		if s.capacity <= 0 {
			s.queue.tryPush(envelope)
			s.stats.RecordEnqueue(false)
			return nil
		}
		if err := s.queue.pushBlocking(envelope, s.stop); err != nil {
			s.stats.RecordEnqueue(true)
			return failedPublishf("subscription %q queue full", s.name)
		}
		s.stats.RecordEnqueue(false)
		return nil
	default: // SkipUpdates
		ok := s.queue.tryPush(envelope)
		s.stats.RecordEnqueue(!ok)
		return nil
	}
}

// seedSnapshot delivers stored envelopes ahead of live traffic as part of
// the fetch-state handoff (§4.5). Bus.seedThenAttach calls it before
// attaching the subscription to the channel, so no live enqueue can precede
// the stored envelopes.
func (s *Subscription) seedSnapshot(envelopes []*Envelope) {
	for _, e := range envelopes {
		if s.slowConsumer == FailPublish && s.capacity > 0 {
			_ = s.queue.pushBlocking(e, s.stop)
		} else {
			s.queue.tryPush(e)
		}
		s.stats.RecordEnqueue(false)
	}
}

// loop is the single logical worker driving dequeue/process (§4.5, §5).
func (s *Subscription) loop() {
	defer close(s.loopDone)
	for {
		s.queue.mu.Lock()
		pending, wake := len(s.queue.items) > 0 || s.queue.closed, s.queue.wake
		s.queue.mu.Unlock()
		if !pending {
			select {
			case <-wake:
				continue
			case <-s.stop:
				return
			}
		}
		if !s.suspendGate.wait(s.stop) {
			return
		}
		envelope, ok := s.queue.pop(s.stop)
		if !ok {
			return
		}
		s.processOne(envelope)
	}
}

func (s *Subscription) processOne(envelope *Envelope) {
	now := time.Now()
	latency := now.Sub(envelope.InceptionTicks)
	s.stats.RecordDequeue(latency)

	handlerStart := time.Now()
	if s.handlerTimeout <= 0 {
		s.invokeHandler(envelope)
		s.stats.RecordService(time.Since(handlerStart))
		s.stats.RecordProcessed()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.invokeHandler(envelope)
	}()
	timer := time.NewTimer(s.handlerTimeout)
	defer timer.Stop()
	select {
	case <-done:
		s.stats.RecordService(time.Since(handlerStart))
	case <-timer.C:
		s.stats.RecordTimeout()
		s.stats.RecordService(time.Since(handlerStart))
		s.invokeTimeoutCallback(*envelope)
	}
	s.stats.RecordProcessed()
}

// invokeHandler calls the user handler, swallowing panics so a misbehaving
// handler cannot terminate the subscription loop (§4.1 failure semantics,
// §7 HandlerException).
func (s *Subscription) invokeHandler(envelope *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			logFromBus(s.bus, "subscription handler panicked",
				"subscription", s.name, "channel", envelope.Channel, "panic", r)
		}
	}()
	if err := s.handler(envelope); err != nil {
		logFromBus(s.bus, "subscription handler returned error",
			"subscription", s.name, "channel", envelope.Channel, "error", err)
	}
}

func (s *Subscription) invokeTimeoutCallback(envelope Envelope) {
	if s.onTimeout == nil {
		return
	}
	defer func() { _ = recover() }()
	s.onTimeout(envelope)
}

func (s *Subscription) conflationFlusher() {
	defer close(s.conflDone)
	for {
		select {
		case <-s.stop:
			return
		case <-s.conflTicker.C:
			s.flushConflation()
		}
	}
}

// flushConflation drains the accumulator into the queue in first-seen-key
// order, the sole writer to the queue while conflation is enabled (§4.5).
func (s *Subscription) flushConflation() {
	s.conflMu.Lock()
	if len(s.conflOrder) == 0 {
		s.conflMu.Unlock()
		return
	}
	keys := s.conflOrder
	values := s.conflValues
	s.conflOrder = nil
	s.conflValues = make(map[string]*Envelope)
	s.conflMu.Unlock()

	for _, key := range keys {
		envelope := values[key]
		if envelope == nil {
			continue
		}
		if s.slowConsumer == FailPublish && s.capacity > 0 {
			_ = s.queue.pushBlocking(envelope, s.stop)
		} else {
			s.queue.tryPush(envelope)
		}
	}
}

// Dispose removes the subscription from every channel it is attached to,
// cancels its worker, discards the conflation accumulator, and emits a
// SubscriptionDisposed lifecycle event. Idempotent (U4).
func (s *Subscription) Dispose() {
	s.stopOnce.Do(func() {
		atomic.StoreInt32(&s.state, int32(stateDisposed))
		close(s.stop)

		s.attachMu.Lock()
		attached := make([]*channel, 0, len(s.attached))
		for _, c := range s.attached {
			attached = append(attached, c)
		}
		s.attached = make(map[string]*channel)
		s.attachMu.Unlock()
		for _, c := range attached {
			c.detach(s.id)
		}
		if s.bus != nil {
			s.bus.removeWildcard(s.id)
		}

		s.suspendGate.release()
		s.queue.closeQueue()
		<-s.loopDone

		if s.conflTicker != nil {
			s.conflTicker.Stop()
			<-s.conflDone
		}
		s.conflMu.Lock()
		s.conflOrder = nil
		s.conflValues = make(map[string]*Envelope)
		s.conflMu.Unlock()
		s.queue.drainDiscard()

		if s.bus != nil {
			s.bus.emitLifecycle(LifecycleEvent{
				EventType:        SubscriptionDisposed,
				ChannelName:      s.pattern,
				SubscriptionName: s.name,
				BodyTypeName:     bodyTypeName(s.bodyType),
				Timestamp:        time.Now(),
			})
		}
	})
}
