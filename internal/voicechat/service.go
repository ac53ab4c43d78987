// Package voicechat wires capture, playback, and the websocket session
// into one conversation service.
package voicechat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxline/go-realtime-voice/internal/capture"
	"github.com/voxline/go-realtime-voice/internal/playback"
	"github.com/voxline/go-realtime-voice/internal/session"
	"github.com/voxline/go-realtime-voice/internal/telemetry"
	"github.com/voxline/go-realtime-voice/pkg/faults"
)

// Status is a point-in-time snapshot of the conversation for rendering.
type Status struct {
	State             string
	Quality           string
	Listening         bool
	Processing        bool
	Playing           bool
	AudioLevel        float64
	ReconnectAttempts int
	Transcript        []session.Entry
	Error             string
}

// Service orchestrates one voice conversation.
type Service struct {
	logger     *zap.Logger
	client     *session.Client
	pipeline   *capture.Pipeline
	queue      *playback.Queue
	transcript *session.Transcript
	meter      *telemetry.Meter
	notifier   *faults.Notifier

	mu         sync.Mutex
	processing bool
	lastError  string
}

// NewService creates the conversation service and wires the component
// callbacks together.
func NewService(
	logger *zap.Logger,
	client *session.Client,
	pipeline *capture.Pipeline,
	queue *playback.Queue,
	transcript *session.Transcript,
	meter *telemetry.Meter,
	notifier *faults.Notifier,
) *Service {
	s := &Service{
		logger:     logger,
		client:     client,
		pipeline:   pipeline,
		queue:      queue,
		transcript: transcript,
		meter:      meter,
		notifier:   notifier,
	}

	client.SetHandlers(session.Handlers{
		OnOpen: func() {
			s.setError("")
		},
		OnText: func(text string) {
			transcript.Append(session.RoleAssistant, text)
		},
		OnAudio: func(payload string) {
			queue.Enqueue(payload)
		},
		OnResponseComplete: func() {
			s.setProcessing(false)
		},
		OnQuality: func(quality string) {
			meter.SetQuality(telemetry.Quality(quality))
		},
		OnServerError: func(detail string) {
			s.setProcessing(false)
			s.setError("Processing error: " + detail)
			logger.Warn("Server reported an error", zap.String("detail", detail))
		},
	})

	pipeline.SetSendFunc(s.sendAudio)

	// Surface every published fault as the current user-facing error.
	for _, kind := range faults.Kinds() {
		notifier.Subscribe(kind, func(e *faults.Error) {
			s.setError(e.UserMessage)
		})
	}

	return s
}

// Connect opens the realtime session.
func (s *Service) Connect(ctx context.Context) error {
	return s.client.Connect(ctx)
}

// Disconnect closes the session and stops capturing.
func (s *Service) Disconnect() {
	s.pipeline.Stop()
	s.client.Disconnect()
}

// StartListening opens the microphone. The transcript records the moment
// listening began.
func (s *Service) StartListening() error {
	if err := s.pipeline.Start(); err != nil {
		return err
	}
	s.transcript.Append(session.RoleUser, "Listening started.")
	return nil
}

// StopListening closes the microphone; buffered audio is still flushed to
// the server.
func (s *Service) StopListening() {
	s.pipeline.Stop()
}

// Status returns the current conversation snapshot.
func (s *Service) Status() Status {
	s.mu.Lock()
	processing := s.processing
	lastError := s.lastError
	s.mu.Unlock()

	return Status{
		State:             s.client.State().String(),
		Quality:           string(s.meter.Quality()),
		Listening:         s.pipeline.Listening(),
		Processing:        processing,
		Playing:           s.queue.Playing(),
		AudioLevel:        s.meter.Level(),
		ReconnectAttempts: s.client.ReconnectAttempts(),
		Transcript:        s.transcript.Entries(),
		Error:             lastError,
	}
}

// Shutdown stops capture and closes the session for application exit.
func (s *Service) Shutdown(ctx context.Context) error {
	s.pipeline.Stop()
	s.client.Disconnect()
	s.queue.Stop()
	return ctx.Err()
}

func (s *Service) sendAudio(payload string, samples int) {
	msg := session.AudioDataMessage(payload, time.Now())
	if err := s.client.Send(msg); err != nil {
		s.logger.Warn("Failed to send audio chunk",
			zap.Int("samples", samples), zap.Error(err))
		return
	}
	s.setProcessing(true)
}

func (s *Service) setProcessing(v bool) {
	s.mu.Lock()
	s.processing = v
	s.mu.Unlock()
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}
