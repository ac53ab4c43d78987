package playback_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voxline/go-realtime-voice/internal/playback"
	"github.com/voxline/go-realtime-voice/internal/telemetry"
	"github.com/voxline/go-realtime-voice/pkg/audio"
	"github.com/voxline/go-realtime-voice/pkg/faults"
)

type fakePlayback struct {
	done     chan struct{}
	stopOnce sync.Once
	stopped  bool
}

func newFakePlayback() *fakePlayback {
	return &fakePlayback{done: make(chan struct{})}
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }

func (p *fakePlayback) Stop() {
	p.stopOnce.Do(func() {
		p.stopped = true
		close(p.done)
	})
}

// finish completes the playback as if the signal drained naturally.
func (p *fakePlayback) finish() {
	p.stopOnce.Do(func() { close(p.done) })
}

type fakeSink struct {
	mu    sync.Mutex
	plays []*fakePlayback
	lens  []int
	err   error
}

func (s *fakeSink) Play(signal []float32) (playback.Playback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p := newFakePlayback()
	s.plays = append(s.plays, p)
	s.lens = append(s.lens, len(signal))
	return p, nil
}

func (s *fakeSink) playCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plays)
}

func (s *fakeSink) play(i int) *fakePlayback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays[i]
}

func newTestQueue(t *testing.T, sink playback.Sink) (*playback.Queue, *faults.Notifier) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	meter := telemetry.NewMeter(telemetry.NewMetrics(prometheus.NewRegistry()))
	notifier := faults.NewNotifier(logger)
	return playback.NewQueue(logger, sink, meter, notifier), notifier
}

func encodeSamples(n int) string {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.25
	}
	return audio.EncodeFrame(samples)
}

func TestQueue_PlaysConditionedSignal(t *testing.T) {
	sink := &fakeSink{}
	q, _ := newTestQueue(t, sink)

	done := q.Enqueue(encodeSamples(2400))

	require.Eventually(t, func() bool {
		return sink.playCount() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2400+2*audio.PaddingSamples, sink.lens[0])
	assert.True(t, q.Playing())

	sink.play(0).finish()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue channel never closed")
	}
	assert.False(t, q.Playing())
}

func TestQueue_SerializesResponses(t *testing.T) {
	sink := &fakeSink{}
	q, _ := newTestQueue(t, sink)

	first := q.Enqueue(encodeSamples(1000))
	require.Eventually(t, func() bool {
		return sink.playCount() == 1
	}, time.Second, 5*time.Millisecond)

	// Second response preempts the first and waits for its turn.
	second := q.Enqueue(encodeSamples(1000))

	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("preempted playback never finished")
	}
	assert.True(t, sink.play(0).stopped)

	require.Eventually(t, func() bool {
		return sink.playCount() == 2
	}, time.Second, 5*time.Millisecond)

	sink.play(1).finish()
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("second playback never finished")
	}
}

func TestQueue_InvalidPayloadPublishesFault(t *testing.T) {
	sink := &fakeSink{}
	q, notifier := newTestQueue(t, sink)

	faultCh := make(chan *faults.Error, 1)
	notifier.Subscribe(faults.KindAudioPlayback, func(e *faults.Error) { faultCh <- e })

	done := q.Enqueue("not base64!!!")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue channel never closed")
	}

	select {
	case fe := <-faultCh:
		assert.Equal(t, "AUDIO_PLAYBACK_FAILED", fe.Code)
	case <-time.After(time.Second):
		t.Fatal("no fault published")
	}
	assert.Zero(t, sink.playCount())
}

func TestQueue_SkipsEmptyPayload(t *testing.T) {
	sink := &fakeSink{}
	q, _ := newTestQueue(t, sink)

	done := q.Enqueue("")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue channel never closed")
	}
	assert.Zero(t, sink.playCount())
}

func TestQueue_SinkErrorPublishesFault(t *testing.T) {
	sink := &fakeSink{err: errors.New("no output device")}
	q, notifier := newTestQueue(t, sink)

	faultCh := make(chan *faults.Error, 1)
	notifier.Subscribe(faults.KindAudioPlayback, func(e *faults.Error) { faultCh <- e })

	<-q.Enqueue(encodeSamples(100))

	select {
	case fe := <-faultCh:
		assert.True(t, fe.Recoverable)
	case <-time.After(time.Second):
		t.Fatal("no fault published")
	}
}
