// Package audio implements the fixed-point wire codec for the realtime
// speech endpoint: 16-bit signed little-endian mono PCM at 24 kHz, framed
// as standard base64.
package audio

import (
	"encoding/base64"
	"fmt"
	"math"
)

// Quantize converts floating-point samples in [-1, 1] to signed 16-bit
// values. Out-of-range samples are clamped before scaling.
func Quantize(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := math.Round(float64(s) * 32768)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		out[i] = int16(v)
	}
	return out
}

// Dequantize is the inverse of Quantize, dividing by the signed 16-bit
// range. Quantize(Dequantize(x)) reproduces x exactly.
func Dequantize(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, v := range pcm {
		out[i] = float32(v) / 32768.0
	}
	return out
}

// PCMInt16ToLE serializes int16 samples as little-endian bytes.
func PCMInt16ToLE(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, v := range samples {
		buf[2*i] = byte(v)
		buf[2*i+1] = byte(uint16(v) >> 8)
	}
	return buf
}

// LEToPCMInt16 parses little-endian bytes back into int16 samples. The
// byte count must be even.
func LEToPCMInt16(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("pcm16 payload has odd length %d", len(b))
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out, nil
}

// EncodeFrame converts floating-point samples to the base64 wire
// representation. An empty sequence encodes to an empty payload.
func EncodeFrame(samples []float32) string {
	if len(samples) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(PCMInt16ToLE(Quantize(samples)))
}

// DecodeFrame is the inverse of EncodeFrame. An empty payload decodes to
// an empty sequence with no error.
func DecodeFrame(payload string) ([]float32, error) {
	if payload == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	pcm, err := LEToPCMInt16(raw)
	if err != nil {
		return nil, err
	}
	return Dequantize(pcm), nil
}

// Level derives a 0-100 meter value from one frame of samples (RMS of the
// frame, clipped to full scale).
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms > 1 {
		rms = 1
	}
	return rms * 100
}
