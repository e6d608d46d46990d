package crossbar

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"crossbar/internal/logging"
)

// wildcardEntry is one row of the hub's wildcard registry: a pattern plus
// the subscription registered against it. Entries are matched against
// channel names when the wildcard subscribes and when a channel is created;
// matching subscriptions are attached to the channel, so Publish never scans
// this registry.
type wildcardEntry struct {
	pattern  string
	segments []string
	sub      *Subscription
}

// Bus is the CrossBar hub: the channel registry, the wildcard registry, and
// the id generators and lifecycle plumbing shared by every Subscribe/Publish
// call. Construct with NewBus.
type Bus struct {
	opts   CrossBarOptions
	logger *logging.Logger

	channelsMu sync.RWMutex
	channels   map[string]*channel

	wildcardMu sync.RWMutex
	wildcards  []*wildcardEntry

	nextEnvelopeID uint64
	nextSubID      uint64

	disposed int32 // atomic bool

	lifecycleChannel string
	traceChannel     string
}

// NewBus constructs a Bus. A nil logger falls back to the package-global
// logger (logging.L()). A zero MaxChannelNameLength, empty
// SystemChannelPrefix or zero SystemChannelBufferCapacity takes its value
// from DefaultCrossBarOptions(); every other field is used as given.
func NewBus(opts CrossBarOptions, logger *logging.Logger) (*Bus, error) {
	defaults := DefaultCrossBarOptions()
	if opts.MaxChannelNameLength == 0 {
		opts.MaxChannelNameLength = defaults.MaxChannelNameLength
	}
	if opts.SystemChannelPrefix == "" {
		opts.SystemChannelPrefix = defaults.SystemChannelPrefix
	}
	if opts.SystemChannelBufferCapacity == 0 {
		opts.SystemChannelBufferCapacity = defaults.SystemChannelBufferCapacity
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	bus := &Bus{
		opts:             opts,
		logger:           logger,
		channels:         make(map[string]*channel),
		lifecycleChannel: opts.SystemChannelPrefix + "lifecycle",
		traceChannel:     opts.SystemChannelPrefix + "message.traces",
	}
	return bus, nil
}

func (b *Bus) isDisposed() bool { return atomic.LoadInt32(&b.disposed) != 0 }

func (b *Bus) isSystemChannel(name string) bool {
	return strings.HasPrefix(name, b.opts.SystemChannelPrefix)
}

// logFromBus routes a diagnostic line through the hub's logger, falling back
// to the package-global logger when the hub carries none. keyvals is an
// alternating key/value list, matching the compact call sites in
// subscription.go.
func logFromBus(bus *Bus, message string, keyvals ...any) {
	logger := logging.L()
	if bus != nil && bus.logger != nil {
		logger = bus.logger
	}
	fields := make([]logging.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		fields = append(fields, logging.Any(key, keyvals[i+1]))
	}
	logger.Warn(message, fields...)
}

// bodyTypeName renders a reflect.Type for diagnostics and lifecycle events,
// tolerating a nil type (e.g. a subscription disposed before any publish
// bound the channel's type).
func bodyTypeName(t reflect.Type) string {
	if t == nil {
		return "unknown"
	}
	return t.String()
}

func (b *Bus) validateChannelName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return invalidChannelNamef("channel name must not be empty")
	}
	if len(name) > b.opts.MaxChannelNameLength {
		return invalidChannelNamef("channel name %q exceeds max length %d", name, b.opts.MaxChannelNameLength)
	}
	return nil
}

// getOrCreateChannel resolves name to its channel, creating it on first
// touch and enforcing the one-body-type-per-channel invariant (I1). Only one
// concurrent creation for a given name wins; all callers observe the same
// winning channel.
func (b *Bus) getOrCreateChannel(name string, bodyType reflect.Type) (*channel, error) {
	b.channelsMu.RLock()
	existing, ok := b.channels[name]
	b.channelsMu.RUnlock()
	if ok {
		if existing.bodyType != nil && bodyType != nil && existing.bodyType != bodyType {
			return nil, typeMismatchf("channel %q is bound to %s, not %s", name, existing.bodyType, bodyType)
		}
		return existing, nil
	}

	b.channelsMu.Lock()
	existing, ok = b.channels[name]
	if ok {
		b.channelsMu.Unlock()
		if existing.bodyType != nil && bodyType != nil && existing.bodyType != bodyType {
			return nil, typeMismatchf("channel %q is bound to %s, not %s", name, existing.bodyType, bodyType)
		}
		return existing, nil
	}
	if !b.isSystemChannel(name) && b.opts.MaxChannels > 0 && b.nonSystemChannelCountLocked() >= b.opts.MaxChannels {
		b.channelsMu.Unlock()
		return nil, fmt.Errorf("%w: at %d channels", ErrChannelLimitExceeded, b.opts.MaxChannels)
	}
	created := newChannel(name, bodyType)
	b.channels[name] = created
	b.channelsMu.Unlock()

	b.attachExistingWildcardsTo(created)

	if !b.isSystemChannel(name) {
		b.emitLifecycle(LifecycleEvent{
			EventType:    ChannelCreated,
			ChannelName:  name,
			BodyTypeName: bodyTypeName(bodyType),
			Timestamp:    time.Now(),
		})
	}
	return created, nil
}

// nonSystemChannelCountLocked must be called with channelsMu held (read or
// write); it counts channels whose name does not carry the system prefix,
// since MaxChannels bounds only channels a publisher can create.
func (b *Bus) nonSystemChannelCountLocked() int {
	count := 0
	for name := range b.channels {
		if !b.isSystemChannel(name) {
			count++
		}
	}
	return count
}

// attachExistingWildcardsTo attaches every registered wildcard subscription
// whose pattern matches a newly created channel's name, so that Publish
// never needs to consult the wildcard registry on its hot path — it simply
// iterates channel.snapshotSubscriptions() (§9 design note: collapsing the
// "consult registry at publish time" language into direct attachment).
func (b *Bus) attachExistingWildcardsTo(c *channel) {
	nameSegments := splitSegments(c.name)
	b.wildcardMu.RLock()
	var matches []*Subscription
	for _, entry := range b.wildcards {
		if matchPattern(entry.segments, nameSegments) {
			matches = append(matches, entry.sub)
		}
	}
	b.wildcardMu.RUnlock()
	for _, sub := range matches {
		c.attach(sub)
		sub.trackAttachment(c)
	}
}

// removeWildcard removes every wildcard registry entry for subscription id,
// called once from Subscription.Dispose.
func (b *Bus) removeWildcard(id uint64) {
	b.wildcardMu.Lock()
	filtered := b.wildcards[:0]
	for _, entry := range b.wildcards {
		if entry.sub.id != id {
			filtered = append(filtered, entry)
		}
	}
	b.wildcards = filtered
	b.wildcardMu.Unlock()
}

// emitLifecycle publishes a LifecycleEvent on the system lifecycle channel
// when tracking is enabled. System channels never emit events about
// themselves (I3).
func (b *Bus) emitLifecycle(event LifecycleEvent) {
	if !b.opts.EnableLifecycleTracking {
		return
	}
	if b.isSystemChannel(event.ChannelName) {
		return
	}
	_ = publishInternal(b, b.lifecycleChannel, event, PublishOptions{})
}

func (b *Bus) emitTrace(envelope *Envelope) {
	if !b.opts.EnableMessageTracing {
		return
	}
	if b.isSystemChannel(envelope.Channel) {
		return
	}
	_ = publishInternal(b, b.traceChannel, *envelope, PublishOptions{})
}

// publishInternal is the type-erased core of Publish[T]. body is boxed as
// `any`; the channel's bound reflect.Type is taken from the first touch,
// either here or from a prior Subscribe.
func publishInternal(b *Bus, channelName string, body any, opts PublishOptions) error {
	if b.isDisposed() {
		return ErrDisposed
	}
	if err := b.validateChannelName(channelName); err != nil {
		return err
	}
	if opts.Store && !opts.HasKey {
		return failedPublishf("store=true requires a key on channel %q", channelName)
	}

	bodyType := reflect.TypeOf(body)
	c, err := b.getOrCreateChannel(channelName, bodyType)
	if err != nil {
		return err
	}

	now := time.Now()
	envelope := &Envelope{
		Id:             atomic.AddUint64(&b.nextEnvelopeID, 1),
		Timestamp:      now,
		InceptionTicks: now,
		CorrelationId:  opts.CorrelationId,
		Key:            opts.Key,
		HasKey:         opts.HasKey,
		From:           opts.From,
		HasFrom:        opts.HasFrom,
		TagA:           opts.TagA,
		Channel:        channelName,
		Body:           body,
	}

	// Open Question (a): store exactly once per channel, before fan-out,
	// regardless of how many subscriptions subsequently observe it.
	if opts.Store {
		c.storeOrCreate().Set(opts.Key, envelope)
	}

	c.recordPublish(opts.From, now)

	var firstFailure error
	for _, sub := range c.snapshotSubscriptions() {
		if err := sub.enqueue(envelope.Clone()); err != nil && firstFailure == nil {
			firstFailure = err
		}
	}

	if b.opts.EnablePublishLogging {
		logger := b.logger
		if logger == nil {
			logger = logging.L()
		}
		logger.Debug("publish", logging.Any("channel", channelName), logging.Any("id", envelope.Id))
	}
	b.emitTrace(envelope)

	return firstFailure
}

// subscribeInternal is the type-erased core of Subscribe[T].
func subscribeInternal(b *Bus, pattern string, bodyType reflect.Type, opts SubscriptionOptions, handler envelopeHandler) (*Subscription, error) {
	if b.isDisposed() {
		return nil, ErrDisposed
	}
	if err := b.validateChannelName(pattern); err != nil {
		return nil, err
	}

	resolved := opts
	if resolved.Capacity == 0 {
		resolved.Capacity = b.opts.DefaultBufferCapacity
	}
	if resolved.ConflationInterval == 0 {
		resolved.ConflationInterval = b.opts.DefaultConflationInterval
	}
	if resolved.SlowConsumer == 0 {
		resolved.SlowConsumer = b.opts.DefaultSlowConsumerStrategy
	}

	id := atomic.AddUint64(&b.nextSubID, 1)
	if resolved.Name == "" {
		resolved.Name = fmt.Sprintf("sub-%d", id)
	}
	wildcard := isWildcard(pattern)
	sub := newSubscription(b, id, resolved.Name, pattern, wildcard, bodyType, resolved, handler)

	if wildcard {
		b.registerWildcard(pattern, sub)
		b.attachWildcardToExistingChannels(pattern, sub, resolved.FetchState)
	} else {
		c, err := b.getOrCreateChannel(pattern, bodyType)
		if err != nil {
			sub.Dispose()
			return nil, err
		}
		if resolved.FetchState {
			b.seedThenAttach(c, sub)
		} else {
			c.attach(sub)
			sub.trackAttachment(c)
		}
	}

	b.emitLifecycle(LifecycleEvent{
		EventType:        SubscriptionCreated,
		ChannelName:      pattern,
		SubscriptionName: resolved.Name,
		BodyTypeName:     bodyTypeName(bodyType),
		Timestamp:        time.Now(),
	})

	return sub, nil
}

// registerWildcard appends the entry before any pre-existing channel scan
// begins, per §9's race-window mitigation.
func (b *Bus) registerWildcard(pattern string, sub *Subscription) {
	b.wildcardMu.Lock()
	b.wildcards = append(b.wildcards, &wildcardEntry{
		pattern:  pattern,
		segments: splitSegments(pattern),
		sub:      sub,
	})
	b.wildcardMu.Unlock()
}

func (b *Bus) attachWildcardToExistingChannels(pattern string, sub *Subscription, fetchState bool) {
	patternSegments := splitSegments(pattern)
	b.channelsMu.RLock()
	var matches []*channel
	for _, c := range b.channels {
		if matchPattern(patternSegments, splitSegments(c.name)) {
			matches = append(matches, c)
		}
	}
	b.channelsMu.RUnlock()
	for _, c := range matches {
		if fetchState {
			b.seedThenAttach(c, sub)
		} else {
			c.attach(sub)
			sub.trackAttachment(c)
		}
	}
}

// seedThenAttach implements the two-phase fetch-state start of §4.5: take a
// store snapshot, queue it on the subscription, then attach, so live
// messages are queued only after the snapshot. A message published between
// the snapshot and the attach is in neither.
func (b *Bus) seedThenAttach(c *channel, sub *Subscription) {
	store := c.storeIfExists()
	var snapshot []*Envelope
	if store != nil {
		snapshot = store.Snapshot()
	}
	if len(snapshot) > 0 {
		sub.seedSnapshot(snapshot)
	}
	c.attach(sub)
	sub.trackAttachment(c)
}

// GetChannels enumerates non-system channels with their public metadata
// (I3: system channels are excluded).
func (b *Bus) GetChannels() []ChannelInfo {
	b.channelsMu.RLock()
	defer b.channelsMu.RUnlock()
	out := make([]ChannelInfo, 0, len(b.channels))
	for name, c := range b.channels {
		if b.isSystemChannel(name) {
			continue
		}
		out = append(out, c.info())
	}
	return out
}

// TryDeleteChannel removes a channel from the registry entirely, detaching
// no subscriptions (callers are expected to have disposed them already);
// returns false if the channel did not exist.
func (b *Bus) TryDeleteChannel(name string) bool {
	b.channelsMu.Lock()
	_, ok := b.channels[name]
	if ok {
		delete(b.channels, name)
	}
	b.channelsMu.Unlock()
	if ok && !b.isSystemChannel(name) {
		b.emitLifecycle(LifecycleEvent{
			EventType:   ChannelDeleted,
			ChannelName: name,
			Timestamp:   time.Now(),
		})
	}
	return ok
}

func (b *Bus) lookupChannel(name string) (*channel, bool) {
	b.channelsMu.RLock()
	defer b.channelsMu.RUnlock()
	c, ok := b.channels[name]
	return c, ok
}

// Dispose disposes every subscription and clears the channel and wildcard
// registries. Idempotent.
func (b *Bus) Dispose() {
	if !atomic.CompareAndSwapInt32(&b.disposed, 0, 1) {
		return
	}
	b.channelsMu.Lock()
	channels := make([]*channel, 0, len(b.channels))
	for _, c := range b.channels {
		channels = append(channels, c)
	}
	b.channels = make(map[string]*channel)
	b.channelsMu.Unlock()

	seen := make(map[uint64]*Subscription)
	for _, c := range channels {
		for _, sub := range c.snapshotSubscriptions() {
			seen[sub.id] = sub
		}
	}
	b.wildcardMu.Lock()
	for _, entry := range b.wildcards {
		seen[entry.sub.id] = entry.sub
	}
	b.wildcards = nil
	b.wildcardMu.Unlock()

	for _, sub := range seen {
		sub.Dispose()
	}
}

// Publish publishes body to channelName, creating the channel on first
// touch. See PublishOptions for the optional key/correlation/store/from/tag
// fields.
func Publish[T any](bus *Bus, channelName string, body T, opts PublishOptions) error {
	return publishInternal(bus, channelName, body, opts)
}

// Subscribe registers handler against pattern (literal or wildcard) and
// returns the live Subscription. The handler must not retain Message[T]
// beyond its call, since Body may alias pooled or shared state in future
// serializer integrations.
func Subscribe[T any](bus *Bus, pattern string, handler func(Message[T]) error, opts SubscriptionOptions) (*Subscription, error) {
	var zero T
	bodyType := reflect.TypeOf(zero)
	wrapped := func(envelope *Envelope) error {
		typed, ok := envelope.Body.(T)
		if !ok {
			return typeMismatchf("envelope body on channel %q is not %T", envelope.Channel, zero)
		}
		return handler(Message[T]{Envelope: *envelope, Body: typed})
	}
	return subscribeInternal(bus, pattern, bodyType, opts, wrapped)
}

// GetChannelState returns the ordered snapshot of channel name's
// MessageStore, decoded to T. Returns an empty slice for a non-existent
// channel or one with no store.
func GetChannelState[T any](bus *Bus, name string) []Message[T] {
	c, ok := bus.lookupChannel(name)
	if !ok {
		return nil
	}
	store := c.storeIfExists()
	if store == nil {
		return nil
	}
	snapshot := store.Snapshot()
	out := make([]Message[T], 0, len(snapshot))
	for _, envelope := range snapshot {
		typed, ok := envelope.Body.(T)
		if !ok {
			continue
		}
		out = append(out, Message[T]{Envelope: *envelope, Body: typed})
	}
	return out
}

// TryDeleteMessage removes key from channel name's MessageStore, reporting
// whether it was present. T is unused at runtime; it documents the expected
// body type at call sites the way GetChannelState does.
func TryDeleteMessage[T any](bus *Bus, name string, key string) bool {
	c, ok := bus.lookupChannel(name)
	if !ok {
		return false
	}
	store := c.storeIfExists()
	if store == nil {
		return false
	}
	return store.TryDelete(key)
}

// ResetChannel clears every key from channel name's MessageStore, returning
// the number of keys cleared.
func ResetChannel[T any](bus *Bus, name string) int {
	c, ok := bus.lookupChannel(name)
	if !ok {
		return 0
	}
	store := c.storeIfExists()
	if store == nil {
		return 0
	}
	return store.Reset()
}
