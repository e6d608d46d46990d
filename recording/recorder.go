package recording

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	crossbar "crossbar"
)

// Sink is the byte destination a Recorder appends frames to. Index creation
// additionally requires the sink support Seek so SeekToMessage/
// SeekToTimestamp can locate a frame by offset.
type Sink interface {
	io.Writer
	io.Closer
}

// IndexSink is the byte destination for a sparse index; it must be
// readable, writable, and seekable since the header is rewritten with the
// final message count on dispose.
type IndexSink interface {
	io.ReadWriteSeeker
	io.Closer
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	// Index, when non-nil, enables sparse index writing at IndexInterval.
	Index IndexSink
	// IndexInterval sets how many messages elapse between index entries.
	// Defaults to 1000 when Index is non-nil and IndexInterval is zero.
	IndexInterval uint64
	// Subscription tunes the underlying crossbar.Subscribe call; Capacity
	// and SlowConsumer matter most for a recorder, since a blocked recorder
	// should not stall publishers under the default SkipUpdates policy.
	Subscription crossbar.SubscriptionOptions
}

// Recorder is a Subscription whose handler serialises each delivered
// envelope into a frame, per §4.7: "A Recording is a Subscription wired to a
// byte sink." Disk write time is folded into the subscription's service-time
// metric because it runs inside the handler the Subscription loop times.
type Recorder[T any] struct {
	sink       Sink
	serializer Serializer[T]
	index      *indexWriter

	sub *crossbar.Subscription

	mu           sync.Mutex
	messageCount uint64
	closed       bool
	firstErr     error
}

// NewRecorder subscribes pattern on bus and begins recording every matching
// envelope to sink using serializer. The returned Recorder owns sink (and
// opts.Index, if set) and closes them on Close.
func NewRecorder[T any](bus *crossbar.Bus, pattern string, sink Sink, serializer Serializer[T], opts RecorderOptions) (*Recorder[T], error) {
	if sink == nil {
		return nil, fmt.Errorf("recording: sink must not be nil")
	}
	if serializer == nil {
		return nil, fmt.Errorf("recording: serializer must not be nil")
	}

	r := &Recorder[T]{sink: sink, serializer: serializer}
	if opts.Index != nil {
		interval := opts.IndexInterval
		if interval == 0 {
			interval = defaultIndexInterval
		}
		idx, err := newIndexWriter(opts.Index, interval)
		if err != nil {
			return nil, err
		}
		r.index = idx
	}

	subOpts := opts.Subscription
	sub, err := crossbar.Subscribe[T](bus, pattern, r.handle, subOpts)
	if err != nil {
		if r.index != nil {
			_ = r.index.Close()
		}
		return nil, err
	}
	r.sub = sub
	return r, nil
}

func (r *Recorder[T]) handle(msg crossbar.Message[T]) error {
	var bodyBuf bytes.Buffer
	if err := r.serializer.Serialize(msg.Body, &bodyBuf); err != nil {
		r.recordErr(err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	offset, canIndex := r.sinkOffset()
	envelope := msg.Envelope
	if err := encodeFrame(r.sink, &envelope, r.serializer.Version(), bodyBuf.Bytes()); err != nil {
		r.firstErr = err
		return err
	}
	r.messageCount++

	if r.index != nil && canIndex && r.messageCount%r.index.interval == 0 {
		if err := r.index.append(r.messageCount, offset, envelope.Timestamp); err != nil {
			r.firstErr = err
			return err
		}
	}
	return nil
}

// sinkOffset returns the sink's current offset when it implements
// io.Seeker, so the index can record a byte-accurate position; otherwise
// indexing is skipped for this frame rather than recording a wrong offset.
func (r *Recorder[T]) sinkOffset() (int64, bool) {
	seeker, ok := r.sink.(io.Seeker)
	if !ok {
		return 0, false
	}
	offset, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, false
	}
	return offset, true
}

func (r *Recorder[T]) recordErr(err error) {
	r.mu.Lock()
	if r.firstErr == nil {
		r.firstErr = err
	}
	r.mu.Unlock()
}

// MessageCount reports how many frames have been written so far.
func (r *Recorder[T]) MessageCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messageCount
}

// Err returns the first error observed while encoding or writing a frame,
// if any.
func (r *Recorder[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstErr
}

// Close disposes the underlying subscription, finalises the index header
// with the total message count, and closes the index sink and the sink.
// Idempotent.
func (r *Recorder[T]) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return r.firstErr
	}
	r.closed = true
	count := r.messageCount
	r.mu.Unlock()

	if r.sub != nil {
		r.sub.Dispose()
	}

	var firstErr error
	if r.index != nil {
		if err := r.index.finalize(count); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := r.index.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.sink.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		r.recordErr(firstErr)
	}
	return firstErr
}
