// Package recording implements the bit-exact framed binary recording format:
// a Recorder subscribes to a channel and serialises each delivered envelope
// into a frame; a Player reads frames back lazily, optionally paced by their
// original timestamps. The format and its sparse index are grounded on the
// host application's internal/replay package, adapted from its JSON/zstd
// blob streams to the fixed binary frame layout this format requires.
package recording

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	crossbar "crossbar"
)

// frameMagic identifies a recording frame; frameSuffix validates the frame
// boundary on read.
var (
	frameMagic  = [4]byte{'C', 'B', 'F', '1'}
	frameSuffix = [4]byte{'\xC5', '\xB4', '\x0F', '\x1A'}
)

// frameVersion is the current on-wire frame layout version.
const frameVersion uint16 = 1

// fixedHeaderSize is the byte length of the fixed header: three u64/i64
// fields plus two i64 fields plus three i32 lengths.
// Id(8) + Timestamp(8) + CorrelationId(8) + InceptionTicks(8) + TagA(8) +
// KeyLen(4) + FromLen(4) + BodyLen(4) = 52 bytes.
const fixedHeaderSize = 8 + 8 + 8 + 8 + 8 + 4 + 4 + 4

// nullLength is the sentinel written for an absent (as opposed to empty)
// variable-length field.
const nullLength int32 = -1

// SerializerVersion identifies the body serializer used to encode a
// recording's frames. It is packed into the frame's flags field.
type SerializerVersion struct {
	Major uint8
	Minor uint8
}

// packFlags encodes a SerializerVersion into the frame's flags field. Bits
// 0-1 are reserved (always zero); bits 2-5 carry Major (4 bits); bits 6-9
// carry Minor (4 bits); bits 10-15 are reserved. The specification's "bits
// 2-3 carry serializer major/minor" is underspecified for two full u8
// fields, so this module resolves it to a concrete, self-consistent layout
// starting at bit 2, documented in DESIGN.md.
func packFlags(v SerializerVersion) uint16 {
	return (uint16(v.Major&0x0F) << 2) | (uint16(v.Minor&0x0F) << 6)
}

func unpackFlags(flags uint16) SerializerVersion {
	return SerializerVersion{
		Major: uint8((flags >> 2) & 0x0F),
		Minor: uint8((flags >> 6) & 0x0F),
	}
}

// Serializer encodes and decodes a single body type to and from the frame's
// variable-length body field. Implementations must write exactly the body
// bytes with no padding, and must be deterministic.
type Serializer[T any] interface {
	Version() SerializerVersion
	Serialize(value T, w io.Writer) error
	Deserialize(r io.Reader, size int) (T, error)
}

// headerPool reduces per-frame allocation on the hot encode path: the
// recorder reuses a single scratch buffer for header assembly.
var headerPool = sync.Pool{
	New: func() any {
		buf := make([]byte, fixedHeaderSize)
		return &buf
	},
}

// encodeFrame writes one frame to w: magic, version, flags, header-size,
// fixed header, length-prefixed key/from/body, suffix.
func encodeFrame(w io.Writer, envelope *crossbar.Envelope, version SerializerVersion, body []byte) error {
	if _, err := w.Write(frameMagic[:]); err != nil {
		return err
	}

	var scratch [2]byte
	binary.LittleEndian.PutUint16(scratch[:], frameVersion)
	if _, err := w.Write(scratch[:]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(scratch[:], packFlags(version))
	if _, err := w.Write(scratch[:]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(scratch[:], uint16(fixedHeaderSize))
	if _, err := w.Write(scratch[:]); err != nil {
		return err
	}

	headerPtr := headerPool.Get().(*[]byte)
	header := *headerPtr
	defer headerPool.Put(headerPtr)

	keyLen := lengthOf(envelope.HasKey, len(envelope.Key))
	fromLen := lengthOf(envelope.HasFrom, len(envelope.From))
	bodyLen := int32(len(body))

	binary.LittleEndian.PutUint64(header[0:8], envelope.Id)
	binary.LittleEndian.PutUint64(header[8:16], uint64(envelope.Timestamp.UnixNano()))
	binary.LittleEndian.PutUint64(header[16:24], uint64(envelope.CorrelationId))
	binary.LittleEndian.PutUint64(header[24:32], uint64(envelope.InceptionTicks.UnixNano()))
	binary.LittleEndian.PutUint64(header[32:40], uint64(envelope.TagA))
	binary.LittleEndian.PutUint32(header[40:44], uint32(keyLen))
	binary.LittleEndian.PutUint32(header[44:48], uint32(fromLen))
	binary.LittleEndian.PutUint32(header[48:52], uint32(bodyLen))
	if _, err := w.Write(header); err != nil {
		return err
	}

	if envelope.HasKey {
		if _, err := io.WriteString(w, envelope.Key); err != nil {
			return err
		}
	}
	if envelope.HasFrom {
		if _, err := io.WriteString(w, envelope.From); err != nil {
			return err
		}
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}

	if _, err := w.Write(frameSuffix[:]); err != nil {
		return err
	}
	return nil
}

func lengthOf(present bool, n int) int32 {
	if !present {
		return nullLength
	}
	return int32(n)
}

// decodedFrame is the raw, still-encoded form of one frame: everything
// needed to reconstruct an Envelope plus the still-undecoded body bytes.
type decodedFrame struct {
	envelope *crossbar.Envelope
	version  SerializerVersion
	body     []byte
}

// decodeFrame reads and validates one frame from r, returning
// crossbar.ErrCorruptedRecording (wrapped with detail) on any boundary
// violation. io.EOF is returned unwrapped when r is exhausted before a new
// frame begins, so callers can distinguish "no more frames" from
// corruption.
func decodeFrame(r io.Reader) (*decodedFrame, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: reading magic: %v", crossbar.ErrCorruptedRecording, err)
	}
	if magic != frameMagic {
		return nil, fmt.Errorf("%w: bad magic %x", crossbar.ErrCorruptedRecording, magic)
	}

	var scratch [2]byte
	if _, err := io.ReadFull(r, scratch[:]); err != nil {
		return nil, fmt.Errorf("%w: reading version: %v", crossbar.ErrCorruptedRecording, err)
	}
	if _, err := io.ReadFull(r, scratch[:]); err != nil {
		return nil, fmt.Errorf("%w: reading flags: %v", crossbar.ErrCorruptedRecording, err)
	}
	flags := binary.LittleEndian.Uint16(scratch[:])
	version := unpackFlags(flags)

	if _, err := io.ReadFull(r, scratch[:]); err != nil {
		return nil, fmt.Errorf("%w: reading header size: %v", crossbar.ErrCorruptedRecording, err)
	}
	headerSize := int(binary.LittleEndian.Uint16(scratch[:]))
	if headerSize < fixedHeaderSize {
		return nil, fmt.Errorf("%w: header size %d smaller than fixed header", crossbar.ErrCorruptedRecording, headerSize)
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", crossbar.ErrCorruptedRecording, err)
	}

	id := binary.LittleEndian.Uint64(header[0:8])
	timestamp := int64(binary.LittleEndian.Uint64(header[8:16]))
	correlationID := int64(binary.LittleEndian.Uint64(header[16:24]))
	inceptionTicks := int64(binary.LittleEndian.Uint64(header[24:32]))
	tagA := int64(binary.LittleEndian.Uint64(header[32:40]))
	keyLen := int32(binary.LittleEndian.Uint32(header[40:44]))
	fromLen := int32(binary.LittleEndian.Uint32(header[44:48]))
	bodyLen := int32(binary.LittleEndian.Uint32(header[48:52]))

	if keyLen < nullLength || fromLen < nullLength || bodyLen < nullLength {
		return nil, fmt.Errorf("%w: negative field length", crossbar.ErrCorruptedRecording)
	}

	key, hasKey, err := readVariable(r, keyLen)
	if err != nil {
		return nil, fmt.Errorf("%w: reading key: %v", crossbar.ErrCorruptedRecording, err)
	}
	from, hasFrom, err := readVariable(r, fromLen)
	if err != nil {
		return nil, fmt.Errorf("%w: reading from: %v", crossbar.ErrCorruptedRecording, err)
	}
	body, _, err := readVariable(r, bodyLen)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", crossbar.ErrCorruptedRecording, err)
	}

	var suffix [4]byte
	if _, err := io.ReadFull(r, suffix[:]); err != nil {
		return nil, fmt.Errorf("%w: reading suffix: %v", crossbar.ErrCorruptedRecording, err)
	}
	if suffix != frameSuffix {
		return nil, fmt.Errorf("%w: bad suffix %x", crossbar.ErrCorruptedRecording, suffix)
	}

	envelope := &crossbar.Envelope{
		Id:             id,
		Timestamp:      unixNano(timestamp),
		InceptionTicks: unixNano(inceptionTicks),
		CorrelationId:  correlationID,
		Key:            string(key),
		HasKey:         hasKey,
		From:           string(from),
		HasFrom:        hasFrom,
		TagA:           tagA,
	}
	return &decodedFrame{envelope: envelope, version: version, body: body}, nil
}

func unixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// readVariable reads a length-prefixed field; length -1 means "absent" and
// returns present=false with a nil slice, length 0 means "present but
// empty".
func readVariable(r io.Reader, length int32) ([]byte, bool, error) {
	if length == nullLength {
		return nil, false, nil
	}
	if length == 0 {
		return nil, true, nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, false, err
	}
	return buf, true, nil
}
