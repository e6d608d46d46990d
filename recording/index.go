package recording

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	crossbar "crossbar"
)

// defaultIndexInterval is the default number of messages between sparse
// index entries, per §4.7.
const defaultIndexInterval = 1000

var indexMagic = [4]byte{'R', 'I', 'D', 'X'}

const indexVersion uint16 = 1

// indexHeaderSize is magic(4) + version(2) + interval(4) + total-count(8).
const indexHeaderSize = 4 + 2 + 4 + 8

// indexEntrySize is MessageNumber(8) + FileOffset(8) + Timestamp(8).
const indexEntrySize = 8 + 8 + 8

// IndexEntry is one sparse index row.
type IndexEntry struct {
	MessageNumber uint64
	FileOffset    int64
	Timestamp     time.Time
}

// indexWriter appends sparse index entries and finalises the header with
// the total message count in finalize, grounded on header.go's
// validate-then-persist pattern applied to a streaming format instead of a
// single JSON document.
type indexWriter struct {
	sink     IndexSink
	interval uint64
}

func newIndexWriter(sink IndexSink, interval uint64) (*indexWriter, error) {
	if interval == 0 {
		interval = defaultIndexInterval
	}
	w := &indexWriter{sink: sink, interval: interval}
	if err := w.writeHeader(0); err != nil {
		return nil, err
	}
	if _, err := sink.Seek(indexHeaderSize, io.SeekStart); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *indexWriter) writeHeader(totalCount uint64) error {
	if _, err := w.sink.Seek(0, io.SeekStart); err != nil {
		return err
	}
	header := make([]byte, indexHeaderSize)
	copy(header[0:4], indexMagic[:])
	binary.LittleEndian.PutUint16(header[4:6], indexVersion)
	binary.LittleEndian.PutUint32(header[6:10], uint32(w.interval))
	binary.LittleEndian.PutUint64(header[10:18], totalCount)
	_, err := w.sink.Write(header)
	return err
}

func (w *indexWriter) append(messageNumber uint64, offset int64, timestamp time.Time) error {
	if _, err := w.sink.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	entry := make([]byte, indexEntrySize)
	binary.LittleEndian.PutUint64(entry[0:8], messageNumber)
	binary.LittleEndian.PutUint64(entry[8:16], uint64(offset))
	binary.LittleEndian.PutUint64(entry[16:24], uint64(timestamp.UnixNano()))
	_, err := w.sink.Write(entry)
	return err
}

func (w *indexWriter) finalize(totalCount uint64) error {
	return w.writeHeader(totalCount)
}

func (w *indexWriter) Close() error {
	return w.sink.Close()
}

// IndexReader reads a finalised sparse index for seeking.
type IndexReader struct {
	Interval   uint32
	TotalCount uint64
	entries    []IndexEntry
}

// ReadIndex loads an entire index file into memory; sparse indices are
// small by construction (one entry per Interval messages) so this is cheap
// relative to the recording itself.
func ReadIndex(r io.Reader) (*IndexReader, error) {
	header := make([]byte, indexHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: reading index header: %v", crossbar.ErrCorruptedRecording, err)
	}
	var magic [4]byte
	copy(magic[:], header[0:4])
	if magic != indexMagic {
		return nil, fmt.Errorf("%w: bad index magic %x", crossbar.ErrCorruptedRecording, magic)
	}
	interval := binary.LittleEndian.Uint32(header[6:10])
	total := binary.LittleEndian.Uint64(header[10:18])

	reader := &IndexReader{Interval: interval, TotalCount: total}
	entryBuf := make([]byte, indexEntrySize)
	for {
		if _, err := io.ReadFull(r, entryBuf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("%w: reading index entry: %v", crossbar.ErrCorruptedRecording, err)
		}
		reader.entries = append(reader.entries, IndexEntry{
			MessageNumber: binary.LittleEndian.Uint64(entryBuf[0:8]),
			FileOffset:    int64(binary.LittleEndian.Uint64(entryBuf[8:16])),
			Timestamp:     unixNano(int64(binary.LittleEndian.Uint64(entryBuf[16:24]))),
		})
	}
	return reader, nil
}

// FloorByMessage returns the entry with the largest MessageNumber <= n, or
// ok=false if n precedes every entry.
func (idx *IndexReader) FloorByMessage(n uint64) (IndexEntry, bool) {
	var best IndexEntry
	found := false
	for _, e := range idx.entries {
		if e.MessageNumber <= n {
			best = e
			found = true
		} else {
			break
		}
	}
	return best, found
}

// FloorByTimestamp returns the entry with the largest Timestamp <= t, or
// ok=false if t precedes every entry.
func (idx *IndexReader) FloorByTimestamp(t time.Time) (IndexEntry, bool) {
	var best IndexEntry
	found := false
	for _, e := range idx.entries {
		if !e.Timestamp.After(t) {
			best = e
			found = true
		} else {
			break
		}
	}
	return best, found
}
