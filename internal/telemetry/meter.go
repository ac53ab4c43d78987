// Package telemetry derives the read-only signals the UI renders: audio
// level and connection quality. It has no control authority over the
// session.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Quality is the coarse connection health signal exposed to the UI.
type Quality string

const (
	QualityGood Quality = "good"
	QualityFair Quality = "fair"
	QualityPoor Quality = "poor"
)

// qualityWindow is the number of recent message parse outcomes the derived
// quality metric considers.
const qualityWindow = 64

// Metrics contains the Prometheus instrumentation for the session core.
type Metrics struct {
	MessagesReceived    prometheus.Counter
	MessagesSent        prometheus.Counter
	ParseErrors         prometheus.Counter
	ReconnectsScheduled prometheus.Counter
	PlaybackPreemptions prometheus.Counter
	PlaybackStalls      prometheus.Counter
	AudioLevel          prometheus.Gauge
	ConnectionState     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_messages_received_total",
			Help: "Total number of inbound realtime messages parsed successfully",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_messages_sent_total",
			Help: "Total number of outbound realtime messages written",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_message_parse_errors_total",
			Help: "Total number of inbound messages that failed to parse",
		}),
		ReconnectsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_reconnects_scheduled_total",
			Help: "Total number of reconnect attempts scheduled",
		}),
		PlaybackPreemptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_playback_preemptions_total",
			Help: "Total number of playbacks stopped by a newer response",
		}),
		PlaybackStalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_playback_stalls_total",
			Help: "Total number of playbacks stopped by the stall timeout",
		}),
		AudioLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_audio_level_percent",
			Help: "Current capture audio level, 0-100",
		}),
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_connection_state",
			Help: "Current connection state as an enum ordinal",
		}),
	}
}

// NewDefaultMetrics registers the metrics with the default registerer.
func NewDefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// Meter aggregates telemetry observations. Quality is derived from a
// rolling window of message parse outcomes rather than the last message
// alone; a server-sent quality report overrides the derived value until
// the next local sample arrives.
type Meter struct {
	metrics *Metrics

	mu          sync.Mutex
	level       float64
	window      [qualityWindow]bool
	count       int
	idx         int
	failures    int
	override    Quality
	hasOverride bool
}

// NewMeter creates a meter backed by the given metrics.
func NewMeter(metrics *Metrics) *Meter {
	return &Meter{metrics: metrics}
}

// ObserveLevel records the current capture audio level (0-100).
func (m *Meter) ObserveLevel(level float64) {
	m.mu.Lock()
	m.level = level
	m.mu.Unlock()
	m.metrics.AudioLevel.Set(level)
}

// Level returns the most recent capture audio level.
func (m *Meter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// ObserveMessage records one inbound message outcome and clears any server
// override.
func (m *Meter) ObserveMessage(ok bool) {
	m.mu.Lock()
	if m.count == qualityWindow {
		if !m.window[m.idx] {
			m.failures--
		}
	} else {
		m.count++
	}
	m.window[m.idx] = ok
	if !ok {
		m.failures++
	}
	m.idx = (m.idx + 1) % qualityWindow
	m.hasOverride = false
	m.mu.Unlock()

	if ok {
		m.metrics.MessagesReceived.Inc()
	} else {
		m.metrics.ParseErrors.Inc()
	}
}

// SetQuality applies a server-reported quality value.
func (m *Meter) SetQuality(q Quality) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.override = q
	m.hasOverride = true
}

// Quality returns the current connection quality.
func (m *Meter) Quality() Quality {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasOverride {
		return m.override
	}
	if m.count == 0 {
		return QualityGood
	}

	ratio := float64(m.failures) / float64(m.count)
	switch {
	case ratio < 0.02:
		return QualityGood
	case ratio < 0.10:
		return QualityFair
	default:
		return QualityPoor
	}
}

// MessageSent records one outbound message.
func (m *Meter) MessageSent() {
	m.metrics.MessagesSent.Inc()
}

// ReconnectScheduled records one scheduled reconnect attempt.
func (m *Meter) ReconnectScheduled() {
	m.metrics.ReconnectsScheduled.Inc()
}

// PlaybackPreempted records a playback stopped by a newer response.
func (m *Meter) PlaybackPreempted() {
	m.metrics.PlaybackPreemptions.Inc()
}

// PlaybackStalled records a playback stopped by the stall timeout.
func (m *Meter) PlaybackStalled() {
	m.metrics.PlaybackStalls.Inc()
}

// SetConnectionState records the connection state ordinal.
func (m *Meter) SetConnectionState(state int) {
	m.metrics.ConnectionState.Set(float64(state))
}
