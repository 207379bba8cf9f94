package audio_test

import (
	"math"
	"testing"

	"github.com/vocata-ai/vocata/pkg/audio"
)

// sine returns one second of a full-scale-relative sine wave as PCM16 mono.
func sine(amplitude float64, sampleRate int) []byte {
	samples := make([]int16, sampleRate)
	for i := range samples {
		v := amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate))
		samples[i] = int16(v * 32767)
	}
	return samplesToBytes(samples)
}

func TestRMS_Silence(t *testing.T) {
	if got := audio.RMS(make([]byte, 640)); got != 0 {
		t.Errorf("silent buffer: got %f, want 0", got)
	}
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("nil buffer: got %f, want 0", got)
	}
}

func TestRMS_FullScaleSine(t *testing.T) {
	// A full-scale sine has RMS of 1/sqrt(2) ~= 0.707.
	got := audio.RMS(sine(1.0, 16000))
	if got < 0.70 || got > 0.72 {
		t.Errorf("got %f, want ~0.707", got)
	}
}

func TestDBFS(t *testing.T) {
	if got := audio.DBFS(1.0); got != 0 {
		t.Errorf("full scale: got %f, want 0", got)
	}
	got := audio.DBFS(0.5)
	if got < -6.1 || got > -5.9 {
		t.Errorf("half scale: got %f, want ~-6.02", got)
	}
	if !math.IsInf(audio.DBFS(0), -1) {
		t.Error("zero level should be -inf")
	}
}

func TestApplyGain(t *testing.T) {
	pcm := samplesToBytes([]int16{1000, -1000})

	doubled := bytesToSamples(audio.ApplyGain(pcm, 6.02))
	if doubled[0] < 1990 || doubled[0] > 2010 {
		t.Errorf("+6dB: got %d, want ~2000", doubled[0])
	}

	halved := bytesToSamples(audio.ApplyGain(pcm, -6.02))
	if halved[0] < 495 || halved[0] > 505 {
		t.Errorf("-6dB: got %d, want ~500", halved[0])
	}

	// Gain must clamp, not wrap.
	loud := bytesToSamples(audio.ApplyGain(samplesToBytes([]int16{30000}), 12))
	if loud[0] != 32767 {
		t.Errorf("clamp: got %d, want 32767", loud[0])
	}
}

func TestNormalizeRMS(t *testing.T) {
	// A -30 dBFS-ish sine normalized to -16 dBFS should land near -16 dBFS.
	quiet := sine(0.03, 16000)
	normalized := audio.NormalizeRMS(quiet, -16)
	got := audio.DBFS(audio.RMS(normalized))
	if got < -17 || got > -15 {
		t.Errorf("normalized level: got %f dBFS, want ~-16", got)
	}
}

func TestNormalizeRMS_SilencePassthrough(t *testing.T) {
	pcm := make([]byte, 320)
	out := audio.NormalizeRMS(pcm, -16)
	if len(out) != len(pcm) {
		t.Fatalf("length changed: got %d, want %d", len(out), len(pcm))
	}
	if audio.RMS(out) != 0 {
		t.Error("silence should stay silent")
	}
}

func TestNormalizeRMS_BoostCap(t *testing.T) {
	// Extremely quiet input must not be boosted past the cap.
	faint := sine(0.0005, 16000)
	before := audio.DBFS(audio.RMS(faint))
	after := audio.DBFS(audio.RMS(audio.NormalizeRMS(faint, -16)))
	if after-before > 25 {
		t.Errorf("boost exceeded cap: %f dB applied", after-before)
	}
}

func TestSoftLimit_CeilingRespected(t *testing.T) {
	loud := sine(1.0, 16000)
	limited := bytesToSamples(audio.SoftLimit(loud, -1.0))
	ceiling := int16(math.Pow(10, -1.0/20) * 32767)
	for i, s := range limited {
		if s > ceiling+1 || s < -ceiling-1 {
			t.Fatalf("sample %d exceeds ceiling: %d (ceiling %d)", i, s, ceiling)
		}
	}
}

func TestSoftLimit_QuietNearIdentity(t *testing.T) {
	quiet := samplesToBytes([]int16{100, -100, 500, -500})
	limited := bytesToSamples(audio.SoftLimit(quiet, -1.0))
	for i, want := range []int16{100, -100, 500, -500} {
		diff := int(limited[i]) - int(want)
		if diff < -10 || diff > 10 {
			t.Errorf("sample %d: got %d, want ~%d", i, limited[i], want)
		}
	}
}
