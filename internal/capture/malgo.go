package capture

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// malgoDevice captures microphone audio through the miniaudio bindings.
type malgoDevice struct {
	logger *zap.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// NewMalgoDevice creates a microphone Device backed by the default system
// capture device.
func NewMalgoDevice(logger *zap.Logger) Device {
	return &malgoDevice{logger: logger}
}

func (d *malgoDevice) Start(cfg StreamConfig, fn FrameFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		return ErrDeviceBusy
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		d.logger.Debug("miniaudio", zap.String("message", message))
	})
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			fn(decodeF32(input, int(frameCount)*cfg.Channels))
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return ErrDeviceNotFound
	}

	if err = device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start capture device: %w", err)
	}

	d.ctx = ctx
	d.device = device

	return nil
}

func (d *malgoDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil {
		return nil
	}

	err := d.device.Stop()
	d.device.Uninit()
	_ = d.ctx.Uninit()
	d.ctx.Free()
	d.device = nil
	d.ctx = nil

	return err
}

// decodeF32 converts little-endian float32 device bytes into samples.
func decodeF32(data []byte, samples int) []float32 {
	if samples*4 > len(data) {
		samples = len(data) / 4
	}
	out := make([]float32, samples)
	for i := range out {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
