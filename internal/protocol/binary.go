package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Binary v2 audio frame layout, all little-endian:
//
//	[u32 stream_id_len][stream_id bytes][u32 sequence][u64 timestamp_ms][PCM16]
//
// An empty PCM payload is the end sentinel: it finalizes the stream instead
// of appending audio.

// maxStreamIDLen bounds the declared stream id length so a corrupt header
// cannot ask for gigabytes.
const maxStreamIDLen = 256

// binaryHeaderLen is the fixed part of the frame: id length + sequence +
// timestamp.
const binaryHeaderLen = 4 + 4 + 8

// ErrFrameTooShort reports a binary frame smaller than its own header.
var ErrFrameTooShort = errors.New("protocol: binary frame too short")

// BinaryFrame is one decoded v2 audio frame.
type BinaryFrame struct {
	StreamID    string
	Sequence    uint32
	TimestampMS uint64
	PCM         []byte
}

// End reports whether the frame is the stream end sentinel.
func (f BinaryFrame) End() bool {
	return len(f.PCM) == 0
}

// DecodeBinaryFrame parses one v2 frame. The returned PCM aliases data; copy
// it if the caller retains the buffer.
func DecodeBinaryFrame(data []byte) (BinaryFrame, error) {
	if len(data) < binaryHeaderLen {
		return BinaryFrame{}, ErrFrameTooShort
	}
	idLen := binary.LittleEndian.Uint32(data[0:4])
	if idLen == 0 || idLen > maxStreamIDLen {
		return BinaryFrame{}, fmt.Errorf("protocol: invalid stream id length %d", idLen)
	}
	if len(data) < binaryHeaderLen+int(idLen) {
		return BinaryFrame{}, ErrFrameTooShort
	}

	off := 4
	id := string(data[off : off+int(idLen)])
	off += int(idLen)
	seq := binary.LittleEndian.Uint32(data[off:])
	off += 4
	ts := binary.LittleEndian.Uint64(data[off:])
	off += 8

	return BinaryFrame{
		StreamID:    id,
		Sequence:    seq,
		TimestampMS: ts,
		PCM:         data[off:],
	}, nil
}

// Encode serializes the frame into a fresh buffer.
func (f BinaryFrame) Encode() []byte {
	out := make([]byte, binaryHeaderLen+len(f.StreamID)+len(f.PCM))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(f.StreamID)))
	off := 4
	copy(out[off:], f.StreamID)
	off += len(f.StreamID)
	binary.LittleEndian.PutUint32(out[off:], f.Sequence)
	off += 4
	binary.LittleEndian.PutUint64(out[off:], f.TimestampMS)
	off += 8
	copy(out[off:], f.PCM)
	return out
}
