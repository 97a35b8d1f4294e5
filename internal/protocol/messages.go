// ABOUTME: Relay service message type definitions
// ABOUTME: JSON control messages exchanged alongside binary audio frames
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the relay service protocol version
const Version = 1

// Message types
const (
	TypeSessionStart   = "session/start"
	TypeStreamFormat   = "stream/format"
	TypeStreamEnd      = "stream/end"
	TypeStreamFinished = "stream/finished"
	TypeServerError    = "server/error"
)

// Session modes
const (
	ModeDecode = "decode"
	ModeEncode = "encode"
)

// Message is the top-level wrapper for all protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Envelope is a received message whose payload has not been decoded yet
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Parse decodes the envelope of a text message
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("invalid message: missing type")
	}
	return &env, nil
}

// Decode unmarshals the payload into v
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Type, err)
	}
	return nil
}

// SessionStart is sent by the server when a session is accepted
type SessionStart struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	Server    string `json:"server"`
	Version   int    `json:"version"`
}

// AudioFormat describes the PCM side of a session
type AudioFormat struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
}

// StreamFinished reports the outcome of a session
type StreamFinished struct {
	SessionID string `json:"session_id"`
	BytesIn   int64  `json:"bytes_in"`
	BytesOut  int64  `json:"bytes_out"`
	Chunks    int64  `json:"chunks"`
	Samples   int64  `json:"samples"`
	// Header is the final FLAC stream header of an encode session
	Header []byte `json:"header,omitempty"`
	MD5    string `json:"md5,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ServerError is sent before the server closes a session it rejected
type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}
