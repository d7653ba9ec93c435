package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"backend-activitytracker/internal/lifecycle"
)

type MessageType string

const (
	TypeConnect      MessageType = "connect_message"
	TypeDataUpdate   MessageType = "data_update"
	TypeStatusChange MessageType = "status_change"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeConnect, TypeDataUpdate, TypeStatusChange:
		return true
	}
	return false
}

var (
	ErrNotConnected     = errors.New("not connected")
	ErrTransportFailure = errors.New("transport failure")
	ErrMalformedMessage = errors.New("malformed message")
)

// Envelope is one frame on the wire. Data is produced and consumed by the
// payload helpers; the transport only looks at Type.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ConnectPayload is the handshake a participant sends right after dialing.
type ConnectPayload struct {
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// DataUpdatePayload carries one participant's progress.
type DataUpdatePayload struct {
	UserID         string  `json:"user_id"`
	DistanceM      int     `json:"distance_m"`
	SpeedKmh       float64 `json:"speed_kmh"`
	HeartRate      int     `json:"heart_rate,omitempty"`
	ElevationGainM int     `json:"elevation_gain_m"`
	ElapsedSec     int64   `json:"elapsed_sec"`
}

// StatusChangePayload is either a participant's own lifecycle transition or,
// when Session is set, a membership change broadcast by the relay.
type StatusChangePayload struct {
	UserID  string                 `json:"user_id"`
	Status  lifecycle.Status       `json:"status"`
	Session *lifecycle.SessionView `json:"session,omitempty"`
}

func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	if !t.Valid() {
		return Envelope{}, fmt.Errorf("type %q: %w", t, ErrMalformedMessage)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", t, err)
	}
	return Envelope{Type: t, Data: data}, nil
}

func ConnectMessage(p ConnectPayload) (Envelope, error) {
	return NewEnvelope(TypeConnect, p)
}

func DataUpdateMessage(p DataUpdatePayload) (Envelope, error) {
	return NewEnvelope(TypeDataUpdate, p)
}

func StatusChangeMessage(p StatusChangePayload) (Envelope, error) {
	return NewEnvelope(TypeStatusChange, p)
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s without data: %w", e.Type, ErrMalformedMessage)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s: %v: %w", e.Type, err, ErrMalformedMessage)
	}
	return nil
}

// ParseEnvelope decodes a frame and checks the discriminator.
func ParseEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%v: %w", err, ErrMalformedMessage)
	}
	if !env.Type.Valid() {
		return Envelope{}, fmt.Errorf("type %q: %w", env.Type, ErrMalformedMessage)
	}
	return env, nil
}
