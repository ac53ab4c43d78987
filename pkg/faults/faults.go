// Package faults classifies platform failures into stable, user-facing
// error records and fans them out to per-kind subscribers.
package faults

import (
	"fmt"
	"time"
)

// Kind groups failures by where they originate.
type Kind string

const (
	KindConnection    Kind = "connection_error"
	KindPermission    Kind = "permission_error"
	KindAudioPlayback Kind = "audio_playback_error"
	KindWebSocket     Kind = "websocket_error"
	KindMicrophone    Kind = "microphone_error"
	KindNetwork       Kind = "network_error"
)

// Kinds returns every fault kind, in a fixed order.
func Kinds() []Kind {
	return []Kind{
		KindConnection,
		KindPermission,
		KindAudioPlayback,
		KindWebSocket,
		KindMicrophone,
		KindNetwork,
	}
}

// Error is a classified failure. UserMessage is pre-defined per code and is
// what the UI shows; Message carries the internal detail.
type Error struct {
	Kind        Kind
	Code        string
	Message     string
	UserMessage string
	Recoverable bool
	Timestamp   time.Time
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
}

func newError(kind Kind, code, message, userMessage string, recoverable bool) *Error {
	return &Error{
		Kind:        kind,
		Code:        code,
		Message:     message,
		UserMessage: userMessage,
		Recoverable: recoverable,
		Timestamp:   time.Now(),
	}
}

// MicCause identifies why microphone acquisition failed.
type MicCause int

const (
	MicCauseUnknown MicCause = iota
	MicCauseDenied
	MicCauseNotFound
	MicCauseBusy
	MicCauseOverconstrained
	MicCauseSecurity
)

// Microphone classifies a microphone acquisition failure. Only a permission
// denial is recoverable: the user can grant access without changing devices.
func Microphone(cause MicCause, err error) *Error {
	detail := ""
	if err != nil {
		detail = err.Error()
	}

	switch cause {
	case MicCauseDenied:
		return newError(KindMicrophone, "MICROPHONE_PERMISSION_DENIED", detail,
			"Voice conversations need access to your microphone. Allow microphone access for this application, then try again.", true)
	case MicCauseNotFound:
		return newError(KindMicrophone, "MICROPHONE_NOT_FOUND", detail,
			"No microphone was found. Make sure a microphone is connected and try again.", false)
	case MicCauseBusy:
		return newError(KindMicrophone, "MICROPHONE_NOT_READABLE", detail,
			"The microphone could not be accessed; it may be in use by another application. Close other applications using the microphone and try again.", false)
	case MicCauseOverconstrained:
		return newError(KindMicrophone, "MICROPHONE_OVERCONSTRAINED", detail,
			"The microphone does not support the required audio format. Try a different microphone.", false)
	case MicCauseSecurity:
		return newError(KindMicrophone, "MICROPHONE_SECURITY_ERROR", detail,
			"Microphone access was blocked by a security restriction. Make sure the application is running in a trusted environment.", false)
	default:
		return newError(KindMicrophone, "MICROPHONE_UNKNOWN_ERROR", detail,
			"Microphone access failed. Check your device settings and try again.", false)
	}
}

// AudioPlayback classifies a playback failure. Playback errors never tear
// down the conversation.
func AudioPlayback(err error) *Error {
	return newError(KindAudioPlayback, "AUDIO_PLAYBACK_FAILED", err.Error(),
		"Audio playback hit a problem, but the conversation can continue. If it persists, check your audio output settings.", true)
}

// WebSocket classifies a transport failure. Recoverable: the reconnection
// state machine handles it.
func WebSocket(err error) *Error {
	return newError(KindWebSocket, "WEBSOCKET_CONNECTION_ERROR", err.Error(),
		"The connection was interrupted. Trying to reconnect...", true)
}

// Network classifies a general connectivity failure.
func Network(err error) *Error {
	return newError(KindNetwork, "NETWORK_ERROR", err.Error(),
		"The network connection is unstable. Check your connection and try again.", true)
}

// Auth marks an authentication failure. Terminal: never retried
// automatically.
func Auth(message string) *Error {
	return newError(KindConnection, "AUTH_FAILED", message,
		"Authentication failed. Sign in again to continue.", false)
}

// ConnectionExhausted marks the end of the reconnection budget.
func ConnectionExhausted(attempts int) *Error {
	return newError(KindConnection, "CONNECTION_EXHAUSTED",
		fmt.Sprintf("gave up after %d reconnect attempts", attempts),
		"The connection could not be re-established. Check your network and reconnect manually.", false)
}

// ConnectTimeout marks a connection attempt that never completed.
func ConnectTimeout() *Error {
	return newError(KindConnection, "CONNECTION_TIMEOUT", "connection attempt timed out",
		"The connection timed out. Check your network connection.", true)
}
