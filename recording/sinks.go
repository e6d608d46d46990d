package recording

import (
	"bufio"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// snappySink wraps a streaming snappy writer over an underlying file/buffer,
// grounded on the host application's replay writer which uses
// snappy.NewBufferedWriter for on-disk compression.
type snappySink struct {
	w      *snappy.Writer
	closer io.Closer
}

// NewSnappySink compresses frames with snappy as they are written. close is
// the underlying file or buffer that owns the bytes; it is closed after the
// snappy writer is flushed.
func NewSnappySink(w io.Writer, close io.Closer) Sink {
	return &snappySink{w: snappy.NewBufferedWriter(w), closer: close}
}

func (s *snappySink) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *snappySink) Close() error {
	if err := s.w.Close(); err != nil {
		if s.closer != nil {
			_ = s.closer.Close()
		}
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// zstdSink wraps a streaming zstd writer, grounded on the same replay writer
// path for its higher-ratio alternative codec.
type zstdSink struct {
	w      *zstd.Encoder
	closer io.Closer
}

// NewZstdSink compresses frames with zstd as they are written.
func NewZstdSink(w io.Writer, close io.Closer) (Sink, error) {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, err
	}
	return &zstdSink{w: enc, closer: close}, nil
}

func (s *zstdSink) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *zstdSink) Close() error {
	if err := s.w.Close(); err != nil {
		if s.closer != nil {
			_ = s.closer.Close()
		}
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// snappySource decompresses a snappy stream for playback.
type snappySource struct {
	r *snappy.Reader
}

// NewSnappySource wraps r for reading a snappy-compressed recording.
func NewSnappySource(r io.Reader) io.Reader {
	return &snappySource{r: snappy.NewReader(r)}
}

func (s *snappySource) Read(p []byte) (int, error) { return s.r.Read(p) }

// zstdSource decompresses a zstd stream for playback.
type zstdSource struct {
	r *zstd.Decoder
}

// NewZstdSource wraps r for reading a zstd-compressed recording. Callers
// should arrange for Close to be invoked (e.g. via a wrapping io.Closer) to
// release the decoder's background resources.
func NewZstdSource(r io.Reader) (*zstdSource, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &zstdSource{r: dec}, nil
}

func (s *zstdSource) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *zstdSource) Close() error {
	s.r.Close()
	return nil
}

// bufferedFileSink wraps an *os.File-like writer with buffering so frame
// writes do not each incur a syscall, matching the teacher's preference for
// bufio-wrapped writers ahead of its own encoders.
func bufferedFileSink(w io.Writer) *bufio.Writer {
	return bufio.NewWriterSize(w, 64*1024)
}

// bufferedSink is an uncompressed Sink that batches writes through
// bufferedFileSink, for recordings that don't need snappy/zstd compression
// but still want the same zero-syscall-per-frame hot path those sinks get
// from wrapping a buffered writer.
type bufferedSink struct {
	w      *bufio.Writer
	closer io.Closer
}

// NewBufferedFileSink wraps w (typically an *os.File) with a buffered
// writer so each frame write does not incur its own syscall. On Close the
// buffered writer is flushed and then close is closed, mirroring
// NewSnappySink/NewZstdSink.
func NewBufferedFileSink(w io.Writer, close io.Closer) Sink {
	return &bufferedSink{w: bufferedFileSink(w), closer: close}
}

func (s *bufferedSink) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *bufferedSink) Close() error {
	if err := s.w.Flush(); err != nil {
		if s.closer != nil {
			_ = s.closer.Close()
		}
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
