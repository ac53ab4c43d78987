package playback

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/voxline/go-realtime-voice/pkg/audio"
)

// malgoSink plays conditioned signals through the default system output
// device using the miniaudio bindings.
type malgoSink struct {
	logger *zap.Logger
}

// NewMalgoSink creates a speaker Sink backed by the default output device.
func NewMalgoSink(logger *zap.Logger) Sink {
	return &malgoSink{logger: logger}
}

type malgoPlayback struct {
	done     chan struct{}
	stopOnce sync.Once
	cleanup  func()
}

func (p *malgoPlayback) Done() <-chan struct{} { return p.done }

func (p *malgoPlayback) Stop() {
	p.stopOnce.Do(func() {
		p.cleanup()
		close(p.done)
	})
}

func (s *malgoSink) Play(signal []float32) (Playback, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		s.logger.Debug("miniaudio", zap.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = audio.Channels
	deviceConfig.SampleRate = audio.SampleRate

	pb := &malgoPlayback{done: make(chan struct{})}

	var pos int
	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			n := int(frameCount)
			for i := 0; i < n; i++ {
				var sample float32
				if pos < len(signal) {
					sample = signal[pos]
					pos++
				}
				binary.LittleEndian.PutUint32(output[i*4:], math.Float32bits(sample))
			}
			if pos >= len(signal) {
				// Drained; finish off-thread so the device can be torn down.
				go pb.Stop()
			}
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("init playback device: %w", err)
	}

	var cleanupOnce sync.Once
	pb.cleanup = func() {
		cleanupOnce.Do(func() {
			device.Uninit()
			_ = ctx.Uninit()
			ctx.Free()
		})
	}

	if err = device.Start(); err != nil {
		pb.cleanup()
		return nil, fmt.Errorf("start playback device: %w", err)
	}

	return pb, nil
}
