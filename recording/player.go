package recording

import (
	"bytes"
	"errors"
	"io"
	"time"

	crossbar "crossbar"
)

// ReplayMode selects the pacing a Player uses between frames.
type ReplayMode int

const (
	// AsFastAsPossible reads and emits frames with no inter-frame delay.
	AsFastAsPossible ReplayMode = iota
	// RespectOriginalMessageIntervals sleeps between items by the delta of
	// consecutive Timestamp values, skipping non-positive deltas.
	RespectOriginalMessageIntervals
)

// Player produces a lazy sequence of envelopes from a framed input. Emitted
// envelopes have InceptionTicks reset to the replay moment, per §4.8, so
// downstream stats remain meaningful.
type Player[T any] struct {
	r          io.Reader
	serializer Serializer[T]
	mode       ReplayMode
	sleep      func(time.Duration)

	lastTimestamp time.Time
	haveLast      bool
}

// PlayerOptions configures a Player.
type PlayerOptions struct {
	Mode ReplayMode
	// Sleep overrides time.Sleep for RespectOriginalMessageIntervals,
	// primarily so tests can inject a fast-forward clock.
	Sleep func(time.Duration)
}

// NewPlayer wraps r (typically a recording file or in-memory buffer) for
// sequential playback.
func NewPlayer[T any](r io.Reader, serializer Serializer[T], opts PlayerOptions) *Player[T] {
	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Player[T]{r: r, serializer: serializer, mode: opts.Mode, sleep: sleep}
}

// Next decodes and returns the next message, or io.EOF when the input is
// exhausted. Once stop is closed, Next returns io.EOF without decoding a
// further frame, including while it waits out an original interval.
func (p *Player[T]) Next(stop <-chan struct{}) (crossbar.Message[T], error) {
	var zero crossbar.Message[T]
	select {
	case <-stop:
		return zero, io.EOF
	default:
	}

	frame, err := decodeFrame(p.r)
	if err != nil {
		return zero, err
	}

	if p.mode == RespectOriginalMessageIntervals {
		if p.haveLast {
			delta := frame.envelope.Timestamp.Sub(p.lastTimestamp)
			if delta > 0 {
				select {
				case <-stop:
					return zero, io.EOF
				case <-afterFunc(p.sleep, delta):
				}
			}
		}
		p.lastTimestamp = frame.envelope.Timestamp
		p.haveLast = true
	}

	body, err := p.serializer.Deserialize(bytes.NewReader(frame.body), len(frame.body))
	if err != nil {
		return zero, err
	}

	envelope := *frame.envelope
	envelope.InceptionTicks = time.Now()
	return crossbar.Message[T]{Envelope: envelope, Body: body}, nil
}

// afterFunc runs sleep(d) synchronously on a background goroutine and
// returns a channel that closes once it returns, so callers can select it
// against a stop signal without blocking a sleep they no longer need.
func afterFunc(sleep func(time.Duration), d time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		sleep(d)
		close(done)
	}()
	return done
}

// IndexedPlayer adds index-backed seeking to a Player. The underlying
// reader must be an io.ReadSeeker.
type IndexedPlayer[T any] struct {
	*Player[T]
	seeker io.ReadSeeker
	index  *IndexReader
}

// NewIndexedPlayer wraps a seekable recording plus its finalised index.
func NewIndexedPlayer[T any](seeker io.ReadSeeker, serializer Serializer[T], index *IndexReader, opts PlayerOptions) *IndexedPlayer[T] {
	return &IndexedPlayer[T]{
		Player: NewPlayer(seeker, serializer, opts),
		seeker: seeker,
		index:  index,
	}
}

// TotalMessages reports the finalised index header's message count.
func (p *IndexedPlayer[T]) TotalMessages() uint64 {
	return p.index.TotalCount
}

// SeekToMessage positions the player at the largest index entry whose
// MessageNumber <= n, then decodes forward (discarding frames) until
// message n is the next frame to be returned by Next.
func (p *IndexedPlayer[T]) SeekToMessage(n uint64) error {
	entry, ok := p.index.FloorByMessage(n)
	if !ok {
		if _, err := p.seeker.Seek(0, io.SeekStart); err != nil {
			return err
		}
		entry = IndexEntry{MessageNumber: 1, FileOffset: 0}
	}
	if _, err := p.seeker.Seek(entry.FileOffset, io.SeekStart); err != nil {
		return err
	}
	p.Player.haveLast = false
	return p.skipUntilMessage(entry.MessageNumber, n)
}

// SeekToTimestamp positions the player at the largest index entry whose
// Timestamp <= t, then decodes forward until the first frame whose
// Timestamp >= t is the next frame to be returned by Next.
func (p *IndexedPlayer[T]) SeekToTimestamp(t time.Time) error {
	entry, ok := p.index.FloorByTimestamp(t)
	if !ok {
		if _, err := p.seeker.Seek(0, io.SeekStart); err != nil {
			return err
		}
		p.Player.haveLast = false
		return p.skipUntilTimestamp(t)
	}
	if _, err := p.seeker.Seek(entry.FileOffset, io.SeekStart); err != nil {
		return err
	}
	p.Player.haveLast = false
	return p.skipUntilTimestamp(t)
}

func (p *IndexedPlayer[T]) skipUntilMessage(positionedAt, target uint64) error {
	for positionedAt < target {
		frame, err := decodeFrame(p.r)
		if err != nil {
			return err
		}
		_ = frame
		positionedAt++
	}
	return nil
}

func (p *IndexedPlayer[T]) skipUntilTimestamp(target time.Time) error {
	for {
		mark, err := tell(p.seeker)
		if err != nil {
			return err
		}
		frame, err := decodeFrame(p.r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if !frame.envelope.Timestamp.Before(target) {
			_, err := p.seeker.Seek(mark, io.SeekStart)
			return err
		}
	}
}

func tell(seeker io.ReadSeeker) (int64, error) {
	return seeker.Seek(0, io.SeekCurrent)
}
