package playback

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxline/go-realtime-voice/internal/telemetry"
	"github.com/voxline/go-realtime-voice/pkg/audio"
	"github.com/voxline/go-realtime-voice/pkg/faults"
)

// stallGrace is added to the expected playback duration before a stuck
// playback is forcibly stopped.
const stallGrace = time.Second

// Playback is one in-flight sink playback.
type Playback interface {
	// Done is closed when the playback finishes or is stopped.
	Done() <-chan struct{}
	// Stop aborts the playback. Done is still closed.
	Stop()
}

// Sink is a speaker output. Play starts playing the signal asynchronously.
type Sink interface {
	Play(signal []float32) (Playback, error)
}

// Queue serializes response playback. Each enqueued response waits for the
// previous one, and a newly arriving response preempts whatever is still
// playing so the conversation never falls behind.
type Queue struct {
	logger   *zap.Logger
	sink     Sink
	meter    *telemetry.Meter
	notifier *faults.Notifier

	mu      sync.Mutex
	tail    chan struct{}
	current Playback
	playing bool
}

// NewQueue creates a playback queue over the given sink.
func NewQueue(logger *zap.Logger, sink Sink, meter *telemetry.Meter, notifier *faults.Notifier) *Queue {
	closed := make(chan struct{})
	close(closed)
	return &Queue{
		logger:   logger,
		sink:     sink,
		meter:    meter,
		notifier: notifier,
		tail:     closed,
	}
}

// Enqueue schedules one base64 PCM16 response for playback. The returned
// channel closes when this response has finished playing (or was skipped
// or preempted).
func (q *Queue) Enqueue(payload string) <-chan struct{} {
	done := make(chan struct{})

	q.mu.Lock()
	prev := q.tail
	q.tail = done

	// A newer response takes over the output immediately.
	if q.current != nil {
		q.current.Stop()
		q.meter.PlaybackPreempted()
	}
	q.mu.Unlock()

	go func() {
		defer close(done)
		<-prev
		q.playTurn(payload, done)
	}()

	return done
}

// Playing reports whether a response is currently audible.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Stop aborts the current playback, if any.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != nil {
		q.current.Stop()
	}
}

func (q *Queue) playTurn(payload string, turn chan struct{}) {
	samples, err := audio.DecodeFrame(payload)
	if err != nil {
		q.notifier.Publish(faults.AudioPlayback(err))
		return
	}
	if len(samples) == 0 {
		q.logger.Debug("Skipping empty audio response")
		return
	}

	signal := prepareSignal(samples)
	duration := time.Duration(len(signal)) * time.Second / audio.SampleRate

	pb, err := q.sink.Play(signal)
	if err != nil {
		q.notifier.Publish(faults.AudioPlayback(err))
		return
	}

	q.mu.Lock()
	q.current = pb
	q.playing = true
	// A newer response may have arrived while the sink was starting; its
	// preemption ran before current was set, so honor it here.
	preempted := q.tail != turn
	q.mu.Unlock()

	if preempted {
		q.meter.PlaybackPreempted()
		pb.Stop()
	}

	stall := time.NewTimer(duration + stallGrace)
	defer stall.Stop()

	select {
	case <-pb.Done():
	case <-stall.C:
		q.logger.Warn("Playback stalled, stopping", zap.Duration("expected", duration))
		q.meter.PlaybackStalled()
		pb.Stop()
		<-pb.Done()
	}

	q.mu.Lock()
	if q.current == pb {
		q.current = nil
	}
	q.playing = false
	q.mu.Unlock()
}
