package capture

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxline/go-realtime-voice/internal/config"
	"github.com/voxline/go-realtime-voice/internal/telemetry"
	"github.com/voxline/go-realtime-voice/pkg/audio"
	"github.com/voxline/go-realtime-voice/pkg/faults"
)

// graceDelay is how long after Stop the pipeline waits before flushing the
// residual buffer, so trailing device frames still make it into the final
// chunk.
const graceDelay = 200 * time.Millisecond

// SendFunc transmits one encoded audio chunk. samples is the number of
// source samples the payload carries.
type SendFunc func(payload string, samples int)

// Pipeline accumulates microphone frames and emits encoded chunks once
// enough samples are buffered. Chunks are emitted in capture order.
type Pipeline struct {
	logger   *zap.Logger
	device   Device
	meter    *telemetry.Meter
	notifier *faults.Notifier

	chunkSamples int
	streamCfg    StreamConfig

	mu        sync.Mutex
	listening bool
	send      SendFunc
	chunks    [][]float32
	total     int
}

// NewPipeline creates a capture pipeline over the given device.
func NewPipeline(logger *zap.Logger, cfg *config.Config, device Device, meter *telemetry.Meter, notifier *faults.Notifier) *Pipeline {
	return &Pipeline{
		logger:       logger,
		device:       device,
		meter:        meter,
		notifier:     notifier,
		chunkSamples: cfg.Audio.ChunkSamples,
		streamCfg: StreamConfig{
			SampleRate:       cfg.Audio.SampleRate,
			Channels:         cfg.Audio.Channels,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
	}
}

// SetSendFunc installs the chunk transmit callback. It must be called
// before Start.
func (p *Pipeline) SetSendFunc(fn SendFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.send = fn
}

// Start opens the device and begins accumulating frames. On failure the
// pipeline stays stopped and the classified error is published before
// being returned.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.listening {
		p.mu.Unlock()
		return ErrAlreadyListening
	}
	p.chunks = nil
	p.total = 0
	p.mu.Unlock()

	if err := p.device.Start(p.streamCfg, p.onFrame); err != nil {
		fe := faults.Microphone(classifyMicError(err), err)
		p.notifier.Publish(fe)
		return fe
	}

	p.mu.Lock()
	p.listening = true
	p.mu.Unlock()

	p.logger.Info("Microphone capture started",
		zap.Int("sampleRate", p.streamCfg.SampleRate),
		zap.Int("chunkSamples", p.chunkSamples))

	return nil
}

// Stop closes the device and schedules a flush of whatever is buffered.
// The delay lets in-flight device frames land before the final chunk is
// cut. Stop is idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.listening {
		p.mu.Unlock()
		return
	}
	p.listening = false
	p.mu.Unlock()

	if err := p.device.Stop(); err != nil {
		p.logger.Warn("Failed to stop microphone device", zap.Error(err))
	}

	time.AfterFunc(graceDelay, p.flush)
	p.meter.ObserveLevel(0)

	p.logger.Info("Microphone capture stopped")
}

// Listening reports whether the pipeline is currently capturing.
func (p *Pipeline) Listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listening
}

func (p *Pipeline) onFrame(samples []float32) {
	frame := make([]float32, len(samples))
	copy(frame, samples)

	p.meter.ObserveLevel(audio.Level(frame))

	var chunk []float32
	p.mu.Lock()
	p.chunks = append(p.chunks, frame)
	p.total += len(frame)
	if p.total >= p.chunkSamples {
		chunk = p.concatLocked()
	}
	send := p.send
	p.mu.Unlock()

	if chunk != nil {
		p.dispatch(send, chunk)
	}
}

// flush emits whatever samples remain after Stop. Runs once per Stop.
func (p *Pipeline) flush() {
	var chunk []float32
	p.mu.Lock()
	if p.total > 0 {
		chunk = p.concatLocked()
	}
	send := p.send
	p.mu.Unlock()

	if chunk != nil {
		p.dispatch(send, chunk)
	}
}

// concatLocked joins the buffered frames into one chunk and clears the
// buffer. Caller holds p.mu.
func (p *Pipeline) concatLocked() []float32 {
	chunk := make([]float32, 0, p.total)
	for _, frame := range p.chunks {
		chunk = append(chunk, frame...)
	}
	p.chunks = nil
	p.total = 0
	return chunk
}

func (p *Pipeline) dispatch(send SendFunc, chunk []float32) {
	if send == nil {
		p.logger.Warn("Dropping audio chunk: no send function installed")
		return
	}
	payload := audio.EncodeFrame(chunk)
	if payload == "" {
		return
	}
	send(payload, len(chunk))
}

func classifyMicError(err error) faults.MicCause {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return faults.MicCauseDenied
	case errors.Is(err, ErrDeviceNotFound):
		return faults.MicCauseNotFound
	case errors.Is(err, ErrDeviceBusy):
		return faults.MicCauseBusy
	case errors.Is(err, ErrConstraintsUnsupported):
		return faults.MicCauseOverconstrained
	case errors.Is(err, ErrSecurityRestricted):
		return faults.MicCauseSecurity
	default:
		return faults.MicCauseUnknown
	}
}
