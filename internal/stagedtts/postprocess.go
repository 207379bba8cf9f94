package stagedtts

import "github.com/vocata-ai/vocata/pkg/audio"

// loudnessTargetDBFS is the RMS level chunks are normalized towards.
const loudnessTargetDBFS = -16.0

// PostProcessor finalizes chunk audio: resample to the target rate, optional
// loudness normalization, soft limiter. The emitted PCM is final; clients
// never alter playback rate.
type PostProcessor struct {
	// TargetRate is the output sample rate. Zero disables resampling.
	TargetRate int

	// Normalize enables RMS loudness normalization to about -16 dBFS.
	Normalize bool

	// CeilingDBFS is the soft-limiter ceiling (e.g. -1.0).
	CeilingDBFS float64
}

// Process applies the pipeline and returns the final PCM and its rate.
func (p PostProcessor) Process(pcm []byte, rate int) ([]byte, int) {
	if len(pcm) == 0 {
		return pcm, rate
	}
	if p.TargetRate > 0 && rate > 0 && rate != p.TargetRate {
		pcm = audio.ResampleMono16(pcm, rate, p.TargetRate)
		rate = p.TargetRate
	}
	if p.Normalize {
		pcm = audio.NormalizeRMS(pcm, loudnessTargetDBFS)
	}
	if p.CeilingDBFS < 0 {
		pcm = audio.SoftLimit(pcm, p.CeilingDBFS)
	}
	return pcm, rate
}
