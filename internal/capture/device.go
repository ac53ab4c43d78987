// Package capture turns microphone input into encoded audio chunks ready
// for transmission.
package capture

import "errors"

// Sentinel errors a Device implementation maps platform failures to. The
// pipeline classifies them into the user-facing error taxonomy.
var (
	ErrPermissionDenied       = errors.New("capture: microphone permission denied")
	ErrDeviceNotFound         = errors.New("capture: no microphone device found")
	ErrDeviceBusy             = errors.New("capture: microphone is in use by another application")
	ErrConstraintsUnsupported = errors.New("capture: requested audio constraints not supported")
	ErrSecurityRestricted     = errors.New("capture: microphone access restricted by security policy")
	ErrAlreadyListening       = errors.New("capture: already listening")
)

// FrameFunc receives one block of mono float32 samples in [-1, 1]. The
// slice is only valid for the duration of the call.
type FrameFunc func(samples []float32)

// StreamConfig describes the capture stream to open.
type StreamConfig struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Device is a microphone source. Implementations deliver sample frames
// from their own thread; callers must not assume a particular block size.
type Device interface {
	// Start opens the stream and begins delivering frames. It returns one
	// of the sentinel errors above when the device cannot be opened.
	Start(cfg StreamConfig, fn FrameFunc) error
	// Stop closes the stream. No frames are delivered after Stop returns.
	Stop() error
}
