package ingest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pcmFrame builds ms milliseconds of constant-amplitude PCM16 mono at the
// ingest sample rate. Amplitude 0 is silence; 8000 is well above the default
// VAD threshold.
func pcmFrame(amp int16, ms int) []byte {
	n := SampleRate * ms / 1000
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amp))
	}
	return buf
}

type finalizeRecord struct {
	pcm      []byte
	reason   string
	duration time.Duration
}

func collector() (FinalizeFunc, chan finalizeRecord) {
	ch := make(chan finalizeRecord, 4)
	return func(_ string, pcm []byte, reason string, duration time.Duration) {
		ch <- finalizeRecord{pcm: pcm, reason: reason, duration: duration}
	}, ch
}

func waitFinalize(t *testing.T, ch chan finalizeRecord) finalizeRecord {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not finalize in time")
		return finalizeRecord{}
	}
}

func TestExplicitEndDeliversBuffer(t *testing.T) {
	fin, ch := collector()
	s := NewStream("s1", Config{}, fin)

	frames := [][]byte{pcmFrame(1000, 20), pcmFrame(2000, 20), pcmFrame(3000, 20)}
	var want []byte
	for i, f := range frames {
		if err := s.Push(uint32(i+1), f); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
		want = append(want, f...)
	}
	s.End(protocol.EndReasonClient)

	rec := waitFinalize(t, ch)
	if rec.reason != protocol.EndReasonClient {
		t.Errorf("reason = %q, want %q", rec.reason, protocol.EndReasonClient)
	}
	if !bytes.Equal(rec.pcm, want) {
		t.Errorf("buffer length = %d, want %d (all accepted frames, in order)", len(rec.pcm), len(want))
	}
}

func TestEmptyPayloadIsEndSentinel(t *testing.T) {
	fin, ch := collector()
	s := NewStream("s1", Config{}, fin)

	if err := s.Push(1, pcmFrame(1000, 20)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := s.Push(2, nil); err != nil {
		t.Fatalf("Push sentinel: %v", err)
	}

	rec := waitFinalize(t, ch)
	if rec.reason != protocol.EndReasonClient {
		t.Errorf("reason = %q, want %q", rec.reason, protocol.EndReasonClient)
	}
}

func TestStaleSequenceRejected(t *testing.T) {
	fin, ch := collector()
	s := NewStream("s1", Config{}, fin)

	accepted := pcmFrame(1000, 20)
	if err := s.Push(5, accepted); err != nil {
		t.Fatalf("Push: %v", err)
	}
	// Replays and regressions must be rejected without touching the buffer.
	if err := s.Push(5, pcmFrame(9000, 20)); !errors.Is(err, ErrStaleSequence) {
		t.Errorf("duplicate seq: err = %v, want ErrStaleSequence", err)
	}
	if err := s.Push(4, pcmFrame(9000, 20)); !errors.Is(err, ErrStaleSequence) {
		t.Errorf("regressing seq: err = %v, want ErrStaleSequence", err)
	}
	next := pcmFrame(2000, 20)
	if err := s.Push(6, next); err != nil {
		t.Fatalf("Push seq 6: %v", err)
	}
	s.End(protocol.EndReasonClient)

	rec := waitFinalize(t, ch)
	want := append(append([]byte{}, accepted...), next...)
	if !bytes.Equal(rec.pcm, want) {
		t.Errorf("buffer = %d bytes, want %d (rejected frames excluded)", len(rec.pcm), len(want))
	}
}

func TestVADFinalizesAfterSilenceWindow(t *testing.T) {
	fin, ch := collector()
	s := NewStream("s1", Config{
		VADEnabled:    true,
		SilenceWindow: 150 * time.Millisecond,
	}, fin)

	seq := uint32(0)
	push := func(f []byte) {
		seq++
		if err := s.Push(seq, f); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	push(pcmFrame(8000, 100)) // speech
	push(pcmFrame(0, 100))    // silence accumulates from frame durations
	push(pcmFrame(0, 100))    // 200ms >= window

	rec := waitFinalize(t, ch)
	if rec.reason != protocol.EndReasonVAD {
		t.Errorf("reason = %q, want %q", rec.reason, protocol.EndReasonVAD)
	}

	// Finalization is exactly-once: a late End and Close must not re-fire.
	s.End(protocol.EndReasonClient)
	s.Close()
	select {
	case rec := <-ch:
		t.Fatalf("second finalize with reason %q", rec.reason)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestVADIgnoresLeadingSilence(t *testing.T) {
	fin, ch := collector()
	s := NewStream("s1", Config{
		VADEnabled:    true,
		SilenceWindow: 100 * time.Millisecond,
	}, fin)

	// Silence before any speech never finalizes, no matter how long.
	for i := 1; i <= 5; i++ {
		if err := s.Push(uint32(i), pcmFrame(0, 100)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	select {
	case rec := <-ch:
		t.Fatalf("finalized on leading silence with reason %q", rec.reason)
	case <-time.After(100 * time.Millisecond):
	}

	s.End(protocol.EndReasonClient)
	if rec := waitFinalize(t, ch); rec.reason != protocol.EndReasonClient {
		t.Errorf("reason = %q, want %q", rec.reason, protocol.EndReasonClient)
	}
}

func TestSpeechResetsSilenceWindow(t *testing.T) {
	fin, ch := collector()
	s := NewStream("s1", Config{
		VADEnabled:    true,
		SilenceWindow: 150 * time.Millisecond,
	}, fin)

	seq := uint32(0)
	push := func(f []byte) {
		seq++
		if err := s.Push(seq, f); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	push(pcmFrame(8000, 100))
	push(pcmFrame(0, 100)) // below the window
	push(pcmFrame(8000, 100))
	push(pcmFrame(0, 100)) // counter restarted, still below

	select {
	case rec := <-ch:
		t.Fatalf("finalized early with reason %q", rec.reason)
	case <-time.After(100 * time.Millisecond):
	}

	push(pcmFrame(0, 100)) // now 200ms of contiguous silence
	if rec := waitFinalize(t, ch); rec.reason != protocol.EndReasonVAD {
		t.Errorf("reason = %q, want %q", rec.reason, protocol.EndReasonVAD)
	}
}

func TestMaxDurationForcesFinalize(t *testing.T) {
	fin, ch := collector()
	s := NewStream("s1", Config{MaxDuration: 80 * time.Millisecond}, fin)

	if err := s.Push(1, pcmFrame(8000, 20)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	// No end, no silence: the wall-clock bound must fire on its own.
	rec := waitFinalize(t, ch)
	if rec.reason != protocol.EndReasonMaxDuration {
		t.Errorf("reason = %q, want %q", rec.reason, protocol.EndReasonMaxDuration)
	}
	if rec.duration < 60*time.Millisecond {
		t.Errorf("duration = %v, want at least the configured bound", rec.duration)
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	// White-box: no consumer goroutine, so the queue actually fills.
	s := &Stream{
		id:      "s1",
		cfg:     Config{QueueSize: 2}.withDefaults(),
		logger:  discardLogger(),
		metrics: observe.DefaultMetrics(),
		queue:   make(chan frame, 2),
		done:    make(chan struct{}),
	}

	for seq := uint32(1); seq <= 4; seq++ {
		if err := s.Push(seq, pcmFrame(int16(seq), 10)); err != nil {
			t.Fatalf("Push %d: %v", seq, err)
		}
	}

	// The two oldest frames were dropped; 3 and 4 survive in order.
	var got []uint32
	for len(s.queue) > 0 {
		got = append(got, (<-s.queue).seq)
	}
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Errorf("surviving seqs = %v, want [3 4]", got)
	}
}

func TestPushAfterCloseReturnsErrClosed(t *testing.T) {
	fin, ch := collector()
	s := NewStream("s1", Config{}, fin)
	s.Close()

	rec := waitFinalize(t, ch)
	if rec.reason != protocol.EndReasonSession {
		t.Errorf("reason = %q, want %q", rec.reason, protocol.EndReasonSession)
	}
	if len(rec.pcm) != 0 {
		t.Errorf("buffer = %d bytes, want empty when closed before any frame", len(rec.pcm))
	}
	if err := s.Push(1, pcmFrame(1000, 20)); !errors.Is(err, ErrClosed) {
		t.Errorf("Push after Close: err = %v, want ErrClosed", err)
	}
}
