package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestBinaryFrameRoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	in := BinaryFrame{
		StreamID:    "stream-7",
		Sequence:    42,
		TimestampMS: 1234567890,
		PCM:         pcm,
	}

	out, err := DecodeBinaryFrame(in.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.StreamID != in.StreamID {
		t.Errorf("stream id: got %q, want %q", out.StreamID, in.StreamID)
	}
	if out.Sequence != in.Sequence {
		t.Errorf("sequence: got %d, want %d", out.Sequence, in.Sequence)
	}
	if out.TimestampMS != in.TimestampMS {
		t.Errorf("timestamp: got %d, want %d", out.TimestampMS, in.TimestampMS)
	}
	if !bytes.Equal(out.PCM, pcm) {
		t.Errorf("pcm: got %v, want %v", out.PCM, pcm)
	}
	if out.End() {
		t.Error("frame with payload must not be the end sentinel")
	}
}

func TestBinaryFrame_EndSentinel(t *testing.T) {
	frame := BinaryFrame{StreamID: "s1", Sequence: 9}
	out, err := DecodeBinaryFrame(frame.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.End() {
		t.Error("empty payload must decode as end sentinel")
	}
}

func TestDecodeBinaryFrame_TooShort(t *testing.T) {
	if _, err := DecodeBinaryFrame([]byte{1, 2, 3}); !errors.Is(err, ErrFrameTooShort) {
		t.Errorf("got %v, want ErrFrameTooShort", err)
	}

	// Header promises a longer id than the buffer carries.
	buf := make([]byte, binaryHeaderLen+2)
	binary.LittleEndian.PutUint32(buf[0:4], 50)
	if _, err := DecodeBinaryFrame(buf); !errors.Is(err, ErrFrameTooShort) {
		t.Errorf("got %v, want ErrFrameTooShort", err)
	}
}

func TestDecodeBinaryFrame_BadIDLength(t *testing.T) {
	buf := make([]byte, binaryHeaderLen+1024)

	binary.LittleEndian.PutUint32(buf[0:4], 0)
	if _, err := DecodeBinaryFrame(buf); err == nil {
		t.Error("zero id length must be rejected")
	}

	binary.LittleEndian.PutUint32(buf[0:4], maxStreamIDLen+1)
	if _, err := DecodeBinaryFrame(buf); err == nil {
		t.Error("oversized id length must be rejected")
	}
}
