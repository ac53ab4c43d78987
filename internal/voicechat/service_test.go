package voicechat_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voxline/go-realtime-voice/internal/capture"
	"github.com/voxline/go-realtime-voice/internal/config"
	"github.com/voxline/go-realtime-voice/internal/playback"
	"github.com/voxline/go-realtime-voice/internal/session"
	"github.com/voxline/go-realtime-voice/internal/telemetry"
	"github.com/voxline/go-realtime-voice/internal/voicechat"
	"github.com/voxline/go-realtime-voice/pkg/audio"
	"github.com/voxline/go-realtime-voice/pkg/faults"
)

type fakeDevice struct {
	mu       sync.Mutex
	fn       capture.FrameFunc
	startErr error
}

func (d *fakeDevice) Start(_ capture.StreamConfig, fn capture.FrameFunc) error {
	if d.startErr != nil {
		return d.startErr
	}
	d.mu.Lock()
	d.fn = fn
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Stop() error { return nil }

func (d *fakeDevice) emit(samples []float32) {
	d.mu.Lock()
	fn := d.fn
	d.mu.Unlock()
	fn(samples)
}

type fakePlayback struct {
	done chan struct{}
	once sync.Once
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }
func (p *fakePlayback) Stop()                 { p.once.Do(func() { close(p.done) }) }

type fakeSink struct {
	mu      sync.Mutex
	signals [][]float32
}

func (s *fakeSink) Play(signal []float32) (playback.Playback, error) {
	buf := make([]float32, len(signal))
	copy(buf, signal)
	s.mu.Lock()
	s.signals = append(s.signals, buf)
	s.mu.Unlock()
	p := &fakePlayback{done: make(chan struct{})}
	p.Stop()
	return p, nil
}

func (s *fakeSink) all() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]float32, len(s.signals))
	copy(out, s.signals)
	return out
}

// echoServer upgrades the connection, records inbound frames, and lets the
// test script outbound frames.
type echoServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	inbound  []session.Message
	connged  chan struct{}
	received chan session.Message
}

func newEchoServer(t *testing.T) (*echoServer, *httptest.Server) {
	s := &echoServer{
		t:        t,
		connged:  make(chan struct{}),
		received: make(chan session.Message, 32),
	}
	ts := httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(ts.Close)
	return s, ts
}

func (s *echoServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	close(s.connged)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg session.Message
		if json.Unmarshal(data, &msg) == nil {
			s.mu.Lock()
			s.inbound = append(s.inbound, msg)
			s.mu.Unlock()
			s.received <- msg
		}
	}
}

func (s *echoServer) send(t *testing.T, msg *session.Message) {
	t.Helper()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	require.NotNil(t, conn)
	require.NoError(t, conn.WriteJSON(msg))
}

func newTestService(t *testing.T, wsURL string, device capture.Device, sink playback.Sink) (*voicechat.Service, *session.Transcript) {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{URL: wsURL, Token: "test-token"},
		Audio: config.AudioConfig{
			SampleRate:   audio.SampleRate,
			Channels:     1,
			ChunkSamples: 1000,
		},
	}
	logger := zaptest.NewLogger(t)
	meter := telemetry.NewMeter(telemetry.NewMetrics(prometheus.NewRegistry()))
	notifier := faults.NewNotifier(logger)

	client := session.NewClient(logger, cfg, session.NewDialer(), meter, notifier)
	pipeline := capture.NewPipeline(logger, cfg, device, meter, notifier)
	queue := playback.NewQueue(logger, sink, meter, notifier)
	transcript := session.NewTranscript()

	svc := voicechat.NewService(logger, client, pipeline, queue, transcript, meter, notifier)
	t.Cleanup(func() { svc.Disconnect() })
	return svc, transcript
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestService_EndToEndConversation(t *testing.T) {
	server, ts := newEchoServer(t)
	device := &fakeDevice{}
	sink := &fakeSink{}
	svc, transcript := newTestService(t, wsURL(ts), device, sink)

	require.NoError(t, svc.Connect(t.Context()))

	select {
	case <-server.connged:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
	}

	// Session negotiation arrives first.
	select {
	case msg := <-server.received:
		assert.Equal(t, session.KindConfigureSession, msg.Type)
		require.NotNil(t, msg.Config)
		assert.Equal(t, 24000, msg.Config.SampleRate)
		assert.Equal(t, "pcm16", msg.Config.AudioFormat)
	case <-time.After(2 * time.Second):
		t.Fatal("no configure_session received")
	}

	// Speak: one full chunk of microphone audio goes out.
	require.NoError(t, svc.StartListening())
	samples := make([]float32, 1000)
	for i := range samples {
		samples[i] = 0.3
	}
	device.emit(samples)

	select {
	case msg := <-server.received:
		assert.Equal(t, session.KindAudioData, msg.Type)
		assert.Equal(t, "pcm16", msg.Format)
		decoded, err := audio.DecodeFrame(msg.Audio)
		require.NoError(t, err)
		assert.Len(t, decoded, 1000)
		assert.NotZero(t, msg.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("no audio_data received")
	}
	require.Eventually(t, func() bool {
		return svc.Status().Processing
	}, 2*time.Second, 10*time.Millisecond)

	// The server answers with text and audio.
	server.send(t, &session.Message{Type: session.KindTextResponse, Text: "hello back"})
	response := make([]float32, 2400)
	for i := range response {
		response[i] = 0.5
	}
	server.send(t, &session.Message{
		Type:  session.KindAudioResponse,
		Audio: audio.EncodeFrame(response),
	})
	server.send(t, &session.Message{Type: session.KindResponseComplete})

	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	signal := sink.all()[0]
	require.Len(t, signal, 2400+2*audio.PaddingSamples)
	// Conditioned output starts from silence and ramps in.
	assert.Zero(t, signal[0])
	assert.Less(t, float64(signal[100]), audio.PlaybackGain)

	require.Eventually(t, func() bool {
		status := svc.Status()
		return !status.Processing && len(status.Transcript) == 2
	}, 2*time.Second, 10*time.Millisecond)

	status := svc.Status()
	assert.Equal(t, "open", status.State)
	assert.Equal(t, session.RoleUser, status.Transcript[0].Role)
	assert.Equal(t, "hello back", status.Transcript[1].Text)
	assert.Equal(t, 2, transcript.Len())
}

func TestService_MicrophoneDenied(t *testing.T) {
	server, ts := newEchoServer(t)
	device := &fakeDevice{startErr: capture.ErrPermissionDenied}
	svc, _ := newTestService(t, wsURL(ts), device, &fakeSink{})

	require.NoError(t, svc.Connect(t.Context()))
	select {
	case <-server.connged:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
	}

	err := svc.StartListening()
	require.Error(t, err)

	var fe *faults.Error
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Recoverable)

	status := svc.Status()
	assert.False(t, status.Listening)
	assert.NotEmpty(t, status.Error)
}

func TestService_ServerErrorClearsProcessing(t *testing.T) {
	server, ts := newEchoServer(t)
	device := &fakeDevice{}
	svc, _ := newTestService(t, wsURL(ts), device, &fakeSink{})

	require.NoError(t, svc.Connect(t.Context()))
	select {
	case <-server.connged:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
	}
	<-server.received // configure_session

	require.NoError(t, svc.StartListening())
	device.emit(make([]float32, 1000))
	<-server.received // audio_data

	require.Eventually(t, func() bool {
		return svc.Status().Processing
	}, 2*time.Second, 10*time.Millisecond)

	server.send(t, &session.Message{
		Type:  session.KindError,
		Error: json.RawMessage(`"transcription unavailable"`),
	})

	require.Eventually(t, func() bool {
		status := svc.Status()
		return !status.Processing && strings.Contains(status.Error, "Processing error")
	}, 2*time.Second, 10*time.Millisecond)
}
