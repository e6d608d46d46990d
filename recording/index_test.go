package recording

import (
	"bytes"
	"testing"
	"time"
)

func TestIndexWriterAppendAndFinalize(t *testing.T) {
	sink := &memSink{}
	w, err := newIndexWriter(sink, 2)
	if err != nil {
		t.Fatalf("newIndexWriter: %v", err)
	}
	if err := w.append(2, 100, time.Unix(1700000000, 0).UTC()); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.append(4, 250, time.Unix(1700000010, 0).UTC()); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.finalize(4); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	reader, err := ReadIndex(bytes.NewReader(sink.data))
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if reader.TotalCount != 4 {
		t.Errorf("TotalCount = %d, want 4", reader.TotalCount)
	}
	if reader.Interval != 2 {
		t.Errorf("Interval = %d, want 2", reader.Interval)
	}

	entry, ok := reader.FloorByMessage(3)
	if !ok || entry.MessageNumber != 2 || entry.FileOffset != 100 {
		t.Fatalf("FloorByMessage(3) = %+v, %v", entry, ok)
	}
	entry, ok = reader.FloorByMessage(4)
	if !ok || entry.MessageNumber != 4 {
		t.Fatalf("FloorByMessage(4) = %+v, %v", entry, ok)
	}
	if _, ok := reader.FloorByMessage(1); ok {
		t.Fatal("expected FloorByMessage(1) to report not found (precedes every entry)")
	}
}

func TestIndexReaderFloorByTimestamp(t *testing.T) {
	sink := &memSink{}
	w, err := newIndexWriter(sink, 1)
	if err != nil {
		t.Fatalf("newIndexWriter: %v", err)
	}
	t0 := time.Unix(1700000000, 0).UTC()
	t1 := time.Unix(1700000100, 0).UTC()
	w.append(1, 10, t0)
	w.append(2, 20, t1)
	w.finalize(2)

	reader, err := ReadIndex(bytes.NewReader(sink.data))
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}

	entry, ok := reader.FloorByTimestamp(t1.Add(time.Second))
	if !ok || entry.MessageNumber != 2 {
		t.Fatalf("FloorByTimestamp after last entry = %+v, %v", entry, ok)
	}
	entry, ok = reader.FloorByTimestamp(t0.Add(time.Millisecond))
	if !ok || entry.MessageNumber != 1 {
		t.Fatalf("FloorByTimestamp between entries = %+v, %v", entry, ok)
	}
	if _, ok := reader.FloorByTimestamp(t0.Add(-time.Second)); ok {
		t.Fatal("expected FloorByTimestamp before first entry to report not found")
	}
}

func TestReadIndexRejectsBadMagic(t *testing.T) {
	data := make([]byte, indexHeaderSize)
	copy(data, []byte("XXXX"))
	if _, err := ReadIndex(bytes.NewReader(data)); err == nil {
		t.Fatal("expected error for bad index magic")
	}
}
