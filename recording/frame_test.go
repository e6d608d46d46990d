package recording

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	crossbar "crossbar"
)

func sampleEnvelope() *crossbar.Envelope {
	return &crossbar.Envelope{
		Id:             7,
		Timestamp:      time.Unix(1700000000, 0).UTC(),
		InceptionTicks: time.Unix(1700000001, 0).UTC(),
		CorrelationId:  99,
		Key:            "eur",
		HasKey:         true,
		From:           "trader-1",
		HasFrom:        true,
		TagA:           -1,
		Channel:        "prices.eur",
	}
}

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	version := SerializerVersion{Major: 3, Minor: 7}
	body := []byte("hello")

	if err := encodeFrame(&buf, sampleEnvelope(), version, body); err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}

	frame, err := decodeFrame(&buf)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if frame.envelope.Id != 7 {
		t.Errorf("Id = %d, want 7", frame.envelope.Id)
	}
	if frame.envelope.Key != "eur" || !frame.envelope.HasKey {
		t.Errorf("key = %q hasKey=%v", frame.envelope.Key, frame.envelope.HasKey)
	}
	if frame.envelope.From != "trader-1" || !frame.envelope.HasFrom {
		t.Errorf("from = %q hasFrom=%v", frame.envelope.From, frame.envelope.HasFrom)
	}
	if !bytes.Equal(frame.body, body) {
		t.Errorf("body = %q, want %q", frame.body, body)
	}
	if frame.version != version {
		t.Errorf("version = %+v, want %+v", frame.version, version)
	}
	if !frame.envelope.Timestamp.Equal(sampleEnvelope().Timestamp) {
		t.Errorf("timestamp round-trip mismatch: got %v", frame.envelope.Timestamp)
	}
}

func TestEncodeFrameOmitsAbsentKeyAndFrom(t *testing.T) {
	var buf bytes.Buffer
	envelope := sampleEnvelope()
	envelope.HasKey = false
	envelope.Key = ""
	envelope.HasFrom = false
	envelope.From = ""

	if err := encodeFrame(&buf, envelope, SerializerVersion{}, nil); err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	frame, err := decodeFrame(&buf)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if frame.envelope.HasKey {
		t.Error("expected HasKey false")
	}
	if frame.envelope.HasFrom {
		t.Error("expected HasFrom false")
	}
	if len(frame.body) != 0 {
		t.Errorf("expected empty body, got %v", frame.body)
	}
}

func TestDecodeFrameReturnsEOFAtCleanEnd(t *testing.T) {
	var buf bytes.Buffer
	if _, err := decodeFrame(&buf); err != io.EOF {
		t.Fatalf("expected io.EOF on empty reader, got %v", err)
	}
}

func TestDecodeFrameRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	if err := encodeFrame(&buf, sampleEnvelope(), SerializerVersion{}, nil); err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	corrupted := buf.Bytes()
	corrupted[0] ^= 0xFF

	if _, err := decodeFrame(bytes.NewReader(corrupted)); err == nil {
		t.Fatal("expected error for corrupted magic")
	}
}

func TestDecodeFrameRejectsBadSuffix(t *testing.T) {
	var buf bytes.Buffer
	if err := encodeFrame(&buf, sampleEnvelope(), SerializerVersion{}, []byte("x")); err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	if _, err := decodeFrame(bytes.NewReader(corrupted)); err == nil {
		t.Fatal("expected error for corrupted suffix")
	}
}

func TestPackUnpackFlagsRoundTrip(t *testing.T) {
	cases := []SerializerVersion{
		{Major: 0, Minor: 0},
		{Major: 1, Minor: 0},
		{Major: 15, Minor: 15},
		{Major: 3, Minor: 9},
	}
	for _, v := range cases {
		flags := packFlags(v)
		got := unpackFlags(flags)
		if got != v {
			t.Errorf("packFlags/unpackFlags(%+v) round-tripped to %+v", v, got)
		}
	}
}

func TestFixedHeaderSizeMatchesEncodedLayout(t *testing.T) {
	var buf bytes.Buffer
	if err := encodeFrame(&buf, sampleEnvelope(), SerializerVersion{}, nil); err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	data := buf.Bytes()
	headerSize := binary.LittleEndian.Uint16(data[8:10])
	if int(headerSize) != fixedHeaderSize {
		t.Fatalf("encoded header-size field = %d, want %d", headerSize, fixedHeaderSize)
	}
}
