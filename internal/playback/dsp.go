// Package playback decodes response audio and plays it back serialized,
// one response at a time, with glitch-suppressing signal conditioning.
package playback

import (
	"math"

	"github.com/voxline/go-realtime-voice/pkg/audio"
)

// prepareSignal conditions a decoded response for playback: silence
// padding at both edges, short linear fades, output gain, and a low-pass
// filter to soften quantization artifacts.
func prepareSignal(samples []float32) []float32 {
	padded := make([]float32, len(samples)+2*audio.PaddingSamples)
	copy(padded[audio.PaddingSamples:], samples)

	applyFade(padded)
	lowPass(padded, audio.LowPassCutoffHz, audio.SampleRate)

	return padded
}

// applyFade ramps the signal in over the first fade window and out over
// the last, scaling everything to the playback gain.
func applyFade(signal []float32) {
	n := len(signal)
	fade := audio.FadeSamples
	if fade > n/2 {
		fade = n / 2
	}

	for i := range signal {
		gain := float32(audio.PlaybackGain)
		switch {
		case i < fade:
			gain *= float32(i) / float32(fade)
		case i >= n-fade:
			gain *= float32(n-1-i) / float32(fade)
		}
		signal[i] *= gain
	}
}

// lowPass applies a single-pole IIR filter in place.
func lowPass(signal []float32, cutoffHz, sampleRate int) {
	rc := 1.0 / (2.0 * math.Pi * float64(cutoffHz))
	dt := 1.0 / float64(sampleRate)
	alpha := float32(dt / (rc + dt))

	var prev float32
	for i, s := range signal {
		prev += alpha * (s - prev)
		signal[i] = prev
	}
}
