package recording

import (
	"encoding/binary"
	"fmt"
	"io"
)

// intSerializer is a minimal Serializer[int] used across this package's
// tests: a fixed 8-byte little-endian encoding with a 1.0 version tag.
type intSerializer struct{}

func (intSerializer) Version() SerializerVersion { return SerializerVersion{Major: 1, Minor: 0} }

func (intSerializer) Serialize(value int, w io.Writer) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(int64(value)))
	_, err := w.Write(buf[:])
	return err
}

func (intSerializer) Deserialize(r io.Reader, size int) (int, error) {
	if size != 8 {
		return 0, fmt.Errorf("intSerializer: unexpected size %d", size)
	}
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int(int64(binary.LittleEndian.Uint64(buf[:]))), nil
}

// nopWriteCloser adapts a bytes.Buffer (or any io.Writer) to the Sink
// interface for tests that do not need Seek.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// memSink is an in-memory io.ReadWriteSeeker+io.Closer, satisfying both Sink
// and IndexSink for tests that need seekable storage without a real file.
type memSink struct {
	data   []byte
	offset int64
	closed bool
}

func (m *memSink) Write(p []byte) (int, error) {
	end := m.offset + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[m.offset:end], p)
	m.offset = end
	return len(p), nil
}

func (m *memSink) Read(p []byte) (int, error) {
	if m.offset >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.offset:])
	m.offset += int64(n)
	return n, nil
}

func (m *memSink) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = m.offset
	case io.SeekEnd:
		base = int64(len(m.data))
	}
	m.offset = base + offset
	return m.offset, nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}
