// Package session manages the realtime websocket connection: its state
// machine, wire protocol, reconnection, and conversation transcript.
package session

import (
	"encoding/json"
	"time"

	"github.com/voxline/go-realtime-voice/pkg/audio"
)

// Wire message types exchanged with the realtime endpoint.
const (
	KindConfigureSession      = "configure_session"
	KindAudioData             = "audio_data"
	KindTextResponse          = "text_response"
	KindAudioResponse         = "audio_response"
	KindResponseComplete      = "response_complete"
	KindError                 = "error"
	KindConnectionEstablished = "connection_established"
	KindSessionConfigured     = "session_configured"
	KindConnectionQuality     = "connection_quality"
	KindEcho                  = "echo"
)

// SessionConfig is the audio negotiation sent right after connect.
type SessionConfig struct {
	AudioFormat string `json:"audio_format"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
}

// QualityData carries a server-reported connection quality value.
type QualityData struct {
	Quality string `json:"quality"`
}

// Message is the envelope for every frame on the wire, in both directions.
type Message struct {
	Type      string          `json:"type"`
	Audio     string          `json:"audio,omitempty"`
	Format    string          `json:"format,omitempty"`
	Text      string          `json:"text,omitempty"`
	Data      *QualityData    `json:"data,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	Config    *SessionConfig  `json:"config,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// ConfigureSessionMessage builds the session negotiation frame.
func ConfigureSessionMessage() *Message {
	return &Message{
		Type: KindConfigureSession,
		Config: &SessionConfig{
			AudioFormat: audio.FormatPCM16,
			SampleRate:  audio.SampleRate,
			Channels:    audio.Channels,
		},
	}
}

// AudioDataMessage builds an outbound audio chunk frame.
func AudioDataMessage(payload string, at time.Time) *Message {
	return &Message{
		Type:      KindAudioData,
		Audio:     payload,
		Format:    audio.FormatPCM16,
		Timestamp: at.UnixMilli(),
	}
}
