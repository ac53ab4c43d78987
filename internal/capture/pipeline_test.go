package capture_test

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voxline/go-realtime-voice/internal/capture"
	"github.com/voxline/go-realtime-voice/internal/config"
	"github.com/voxline/go-realtime-voice/internal/telemetry"
	"github.com/voxline/go-realtime-voice/pkg/audio"
	"github.com/voxline/go-realtime-voice/pkg/faults"
)

type fakeDevice struct {
	mu       sync.Mutex
	fn       capture.FrameFunc
	startErr error
	started  bool
}

func (d *fakeDevice) Start(_ capture.StreamConfig, fn capture.FrameFunc) error {
	if d.startErr != nil {
		return d.startErr
	}
	d.mu.Lock()
	d.fn = fn
	d.started = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) emit(samples []float32) {
	d.mu.Lock()
	fn := d.fn
	d.mu.Unlock()
	fn(samples)
}

type sentChunk struct {
	payload string
	samples int
}

type chunkRecorder struct {
	mu     sync.Mutex
	chunks []sentChunk
}

func (r *chunkRecorder) send(payload string, samples int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, sentChunk{payload: payload, samples: samples})
}

func (r *chunkRecorder) all() []sentChunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sentChunk, len(r.chunks))
	copy(out, r.chunks)
	return out
}

func newTestPipeline(t *testing.T, device capture.Device, chunkSamples int) (*capture.Pipeline, *chunkRecorder, *faults.Notifier) {
	t.Helper()

	cfg := &config.Config{
		Audio: config.AudioConfig{
			SampleRate:   audio.SampleRate,
			Channels:     1,
			ChunkSamples: chunkSamples,
		},
	}
	logger := zaptest.NewLogger(t)
	meter := telemetry.NewMeter(telemetry.NewMetrics(prometheus.NewRegistry()))
	notifier := faults.NewNotifier(logger)

	p := capture.NewPipeline(logger, cfg, device, meter, notifier)
	rec := &chunkRecorder{}
	p.SetSendFunc(rec.send)
	return p, rec, notifier
}

func constSamples(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestPipeline_EmitsChunkAtThreshold(t *testing.T) {
	device := &fakeDevice{}
	p, rec, _ := newTestPipeline(t, device, 1000)

	require.NoError(t, p.Start())
	device.emit(constSamples(1000, 0.25))

	chunks := rec.all()
	require.Len(t, chunks, 1)
	assert.Equal(t, 1000, chunks[0].samples)

	decoded, err := audio.DecodeFrame(chunks[0].payload)
	require.NoError(t, err)
	assert.Len(t, decoded, 1000)

	// Buffer is empty afterwards, so a tiny follow-up frame sends nothing.
	device.emit(constSamples(10, 0.25))
	assert.Len(t, rec.all(), 1)
}

func TestPipeline_AccumulatesAcrossBlockSizes(t *testing.T) {
	device := &fakeDevice{}
	p, rec, _ := newTestPipeline(t, device, 1000)

	require.NoError(t, p.Start())
	for _, n := range []int{128, 256, 512, 300} {
		device.emit(constSamples(n, 0.1))
	}

	// 128+256+512 = 896 < 1000; the 300-sample block crosses the threshold.
	chunks := rec.all()
	require.Len(t, chunks, 1)
	assert.Equal(t, 1196, chunks[0].samples)
}

func TestPipeline_StopFlushesResidue(t *testing.T) {
	device := &fakeDevice{}
	p, rec, _ := newTestPipeline(t, device, 1000)

	require.NoError(t, p.Start())
	device.emit(constSamples(400, 0.5))
	p.Stop()

	require.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 400, rec.all()[0].samples)

	// No second flush.
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, rec.all(), 1)
}

func TestPipeline_StopIsIdempotent(t *testing.T) {
	device := &fakeDevice{}
	p, rec, _ := newTestPipeline(t, device, 1000)

	require.NoError(t, p.Start())
	device.emit(constSamples(100, 0.5))
	p.Stop()
	p.Stop()

	require.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, rec.all(), 1)
	assert.False(t, p.Listening())
}

func TestPipeline_PermissionDenied(t *testing.T) {
	device := &fakeDevice{startErr: capture.ErrPermissionDenied}
	p, _, notifier := newTestPipeline(t, device, 1000)

	var published *faults.Error
	notifier.Subscribe(faults.KindMicrophone, func(e *faults.Error) { published = e })

	err := p.Start()
	require.Error(t, err)

	var fe *faults.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "MICROPHONE_PERMISSION_DENIED", fe.Code)
	assert.True(t, fe.Recoverable)
	assert.Same(t, fe, published)
	assert.False(t, p.Listening())
}

func TestPipeline_DoubleStart(t *testing.T) {
	device := &fakeDevice{}
	p, _, _ := newTestPipeline(t, device, 1000)

	require.NoError(t, p.Start())
	assert.ErrorIs(t, p.Start(), capture.ErrAlreadyListening)
}
