package recording

import (
	"container/heap"
	"io"
	"time"

	crossbar "crossbar"
)

// DuplicateIdPolicy controls how Merge resolves frames sharing the same
// envelope Id across input recordings.
type DuplicateIdPolicy int

const (
	// KeepFirst keeps the first occurrence of a duplicate id encountered in
	// timestamp order and discards later ones.
	KeepFirst DuplicateIdPolicy = iota
	// KeepLast keeps the last occurrence, replacing any earlier one.
	KeepLast
	// KeepAll writes every occurrence; no deduplication is performed.
	KeepAll
)

// Merge performs a k-way merge of frame readers ordered by envelope
// Timestamp, applying policy to frames sharing an Id, and writes the result
// to w re-encoded with version. The full merged sequence is buffered in
// memory before anything is written, whatever the policy; KeepLast needs
// every occurrence of an id before deciding which to keep.
func Merge(w io.Writer, version SerializerVersion, sources []io.Reader, policy DuplicateIdPolicy) error {
	pq := make(mergeQueue, 0, len(sources))
	for i, src := range sources {
		frame, err := decodeFrame(src)
		if err == io.EOF {
			continue
		}
		if err != nil {
			return err
		}
		pq = append(pq, &mergeItem{frame: frame, source: i, src: src})
	}
	heap.Init(&pq)

	var merged []*decodedFrame
	for pq.Len() > 0 {
		item := heap.Pop(&pq).(*mergeItem)
		merged = append(merged, item.frame)

		next, err := decodeFrame(item.src)
		if err == io.EOF {
			continue
		}
		if err != nil {
			return err
		}
		heap.Push(&pq, &mergeItem{frame: next, source: item.source, src: item.src})
	}

	keep := make([]bool, len(merged))
	switch policy {
	case KeepFirst:
		seen := make(map[uint64]bool, len(merged))
		for i, f := range merged {
			if seen[f.envelope.Id] {
				continue
			}
			seen[f.envelope.Id] = true
			keep[i] = true
		}
	case KeepLast:
		lastIndex := make(map[uint64]int, len(merged))
		for i, f := range merged {
			lastIndex[f.envelope.Id] = i
		}
		for i, f := range merged {
			if lastIndex[f.envelope.Id] == i {
				keep[i] = true
			}
		}
	default: // KeepAll
		for i := range merged {
			keep[i] = true
		}
	}

	for i, f := range merged {
		if !keep[i] {
			continue
		}
		if err := encodeFrame(w, f.envelope, version, f.body); err != nil {
			return err
		}
	}
	return nil
}

type mergeItem struct {
	frame  *decodedFrame
	source int
	src    io.Reader
}

type mergeQueue []*mergeItem

func (q mergeQueue) Len() int { return len(q) }
func (q mergeQueue) Less(i, j int) bool {
	ti, tj := q[i].frame.envelope.Timestamp, q[j].frame.envelope.Timestamp
	if ti.Equal(tj) {
		return q[i].source < q[j].source
	}
	return ti.Before(tj)
}
func (q mergeQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *mergeQueue) Push(x any)        { *q = append(*q, x.(*mergeItem)) }
func (q *mergeQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// SplitBudget bounds a single output segment produced by Split. A segment
// rolls over to a new sink once any configured, non-zero bound is reached;
// zero means that bound does not apply. MaxDuration bounds the span between
// the first frame's Timestamp in a segment and the next candidate frame's
// Timestamp.
type SplitBudget struct {
	MaxMessages int
	MaxBytes    int64
	MaxDuration time.Duration
}

// Split copies frames from r into newSink()-provided writers, rolling over
// to a new sink whenever the current segment would exceed budget (by
// message count, byte size, or timestamp span, per §4.9). newSink is
// called once per segment and the previous sink is closed before the next
// is requested.
func Split(r io.Reader, budget SplitBudget, newSink func() (Sink, error)) (int, error) {
	segments := 0
	var current Sink
	var messages int
	var bytesWritten int64
	var segmentStart time.Time
	var haveSegmentStart bool

	rollover := func() error {
		if current != nil {
			if err := current.Close(); err != nil {
				return err
			}
		}
		sink, err := newSink()
		if err != nil {
			return err
		}
		current = sink
		segments++
		messages = 0
		bytesWritten = 0
		haveSegmentStart = false
		return nil
	}

	if err := rollover(); err != nil {
		return segments, err
	}

	for {
		frame, err := decodeFrame(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return segments, err
		}

		exceeds := (budget.MaxMessages > 0 && messages >= budget.MaxMessages) ||
			(budget.MaxBytes > 0 && bytesWritten >= budget.MaxBytes) ||
			(budget.MaxDuration > 0 && haveSegmentStart && frame.envelope.Timestamp.Sub(segmentStart) >= budget.MaxDuration)
		if exceeds {
			if err := rollover(); err != nil {
				return segments, err
			}
		}

		if !haveSegmentStart {
			segmentStart = frame.envelope.Timestamp
			haveSegmentStart = true
		}

		var counter countingWriter
		if err := encodeFrame(io.MultiWriter(current, &counter), frame.envelope, frame.version, frame.body); err != nil {
			return segments, err
		}
		messages++
		bytesWritten += counter.n
	}

	if current != nil {
		if err := current.Close(); err != nil {
			return segments, err
		}
	}
	return segments, nil
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// FilterFunc reports whether a frame's decoded envelope and still-encoded
// body should be copied to a Filter's output.
type FilterFunc func(envelope *crossbar.Envelope, body []byte, version SerializerVersion) bool

// Filter copies frames from r to w for which keep returns true, per §4.9:
// a predicate over the decoded envelope, not just its body bytes, so
// callers can filter on Id, Key, From, CorrelationId, or TagA in addition
// to the body and timestamp.
func Filter(r io.Reader, w io.Writer, keep FilterFunc) error {
	for {
		frame, err := decodeFrame(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if keep(frame.envelope, frame.body, frame.version) {
			if err := encodeFrame(w, frame.envelope, frame.version, frame.body); err != nil {
				return err
			}
		}
	}
}

// Convert re-encodes every frame from r into w, replacing each frame's
// serializer version tag with target and its body bytes with the output of
// transform. Pass an identity transform to change only the version tag.
func Convert(r io.Reader, w io.Writer, target SerializerVersion, transform func(body []byte) ([]byte, error)) error {
	for {
		frame, err := decodeFrame(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		body := frame.body
		if transform != nil {
			body, err = transform(body)
			if err != nil {
				return err
			}
		}
		if err := encodeFrame(w, frame.envelope, target, body); err != nil {
			return err
		}
	}
}
