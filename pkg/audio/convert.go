package audio

import (
	"encoding/binary"
	"math"
)

// Int16ToFloat32 converts signed 16-bit samples to float32 samples normalised
// to the range [-1.0, 1.0).
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 converts normalised float32 samples back to int16, clamping
// anything outside [-1.0, 1.0].
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32768.0
		out[i] = clampInt16(int(math.Round(v)))
	}
	return out
}

// PCMToInt16 decodes little-endian 16-bit PCM. A trailing odd byte is
// silently ignored.
func PCMToInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return out
}

// Int16ToPCM encodes samples as little-endian 16-bit PCM.
func Int16ToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DownmixToMono averages interleaved multi-channel samples into a single
// channel. With channels <= 1 the input is returned unchanged.
func DownmixToMono(samples []int, channels int) []int {
	if channels <= 1 {
		return samples
	}
	n := len(samples) / channels
	out := make([]int, n)
	for i := range n {
		var sum int
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / channels
	}
	return out
}

// RMS returns the root-mean-square energy of samples in 16-bit units
// (0 for silence, at most 32768).
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// clampInt16 clamps v to the int16 range.
func clampInt16(v int) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
