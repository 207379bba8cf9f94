package audio

import (
	"encoding/binary"
	"math"
)

// maxBoostDB caps the gain applied by NormalizeRMS so near-silent input is not
// amplified into audible noise.
const maxBoostDB = 24.0

// RMS returns the root-mean-square level of int16 mono PCM, normalized to
// [0, 1]. Empty or odd-length input yields 0.
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := range samples {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(samples)) / 32768.0
}

// DBFS converts a normalized linear level in (0, 1] to decibels relative to
// full scale. A zero level returns -inf.
func DBFS(level float64) float64 {
	if level <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(level)
}

// GainFactor converts a decibel gain to a linear multiplier.
func GainFactor(db float64) float64 {
	return math.Pow(10, db/20)
}

// ApplyGain scales int16 mono PCM by the given decibel gain, clamping to the
// int16 range. A 0 dB gain returns the input unchanged.
func ApplyGain(pcm []byte, gainDB float64) []byte {
	if gainDB == 0 || len(pcm) < 2 {
		return pcm
	}
	factor := GainFactor(gainDB)
	samples := len(pcm) / 2
	out := make([]byte, samples*2)
	for i := range samples {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) * factor
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

// NormalizeRMS applies the gain that brings the RMS level of pcm to
// targetDBFS. Silent input is returned unchanged; the boost is capped at
// maxBoostDB.
func NormalizeRMS(pcm []byte, targetDBFS float64) []byte {
	level := RMS(pcm)
	if level <= 0 {
		return pcm
	}
	gain := targetDBFS - DBFS(level)
	if gain > maxBoostDB {
		gain = maxBoostDB
	}
	return ApplyGain(pcm, gain)
}

// SoftLimit passes int16 mono PCM through a tanh-shaped limiter with the given
// ceiling in dBFS. Samples well below the ceiling are close to identity;
// samples at or above it are smoothly compressed so the output never exceeds
// the ceiling.
func SoftLimit(pcm []byte, ceilingDBFS float64) []byte {
	if len(pcm) < 2 {
		return pcm
	}
	ceiling := GainFactor(ceilingDBFS)
	if ceiling <= 0 || ceiling > 1 {
		ceiling = 1
	}
	samples := len(pcm) / 2
	out := make([]byte, samples*2)
	for i := range samples {
		x := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		y := ceiling * math.Tanh(x/ceiling)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(y*32767.0)))
	}
	return out
}
