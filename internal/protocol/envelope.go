package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Flag selects the semantic class of an envelope.
type Flag int

const (
	FlagText            Flag = 0  // plain text message
	FlagLogin           Flag = 1  // message=password, id=claimed user id
	FlagRegister        Flag = 2  // message=password, name=username
	FlagServerHeartbeat Flag = 3  // server liveness push
	FlagClientHeartbeat Flag = 4  // client liveness signal
	FlagSyncRequest     Flag = 5  // message=last-seen timestamp or -1
	FlagSyncItem        Flag = 6  // legacy offline item, never produced anymore
	FlagSyncComplete    Flag = 7  // terminates an offline replay
	FlagImage           Flag = 8  // base64 image payload
	FlagFile            Flag = 9  // file reference payload
	FlagAvatar          Flag = 10 // base64 avatar payload
)

// Valid reports whether the flag belongs to the known taxonomy. Unknown flags
// still decode; the session layer logs and drops them.
func (f Flag) Valid() bool {
	return f >= FlagText && f <= FlagAvatar
}

func (f Flag) String() string {
	switch f {
	case FlagText:
		return "text"
	case FlagLogin:
		return "login"
	case FlagRegister:
		return "register"
	case FlagServerHeartbeat:
		return "server_heartbeat"
	case FlagClientHeartbeat:
		return "client_heartbeat"
	case FlagSyncRequest:
		return "sync_request"
	case FlagSyncItem:
		return "sync_item"
	case FlagSyncComplete:
		return "sync_complete"
	case FlagImage:
		return "image"
	case FlagFile:
		return "file"
	case FlagAvatar:
		return "avatar"
	}
	return fmt.Sprintf("unknown(%d)", int(f))
}

// Status strings surfaced to clients during the handshake.
const (
	StatusLoginSuccess   = "LOGIN_SUCCESS"
	StatusLoginFail      = "LOGIN_FAIL"
	StatusRegistered     = "REGISTERED"
	StatusRegisteredFail = "REGISTERED_FAIL"
)

// Heartbeat marker carried by flag 3 and flag 4 envelopes.
const HeartbeatMarker = "heartbeat"

// SyncCompleteMarker is the payload of the flag 7 envelope ending a replay.
const SyncCompleteMarker = "sync_complete"

// SyncNever is the watermark a client sends on its first-ever connect.
const SyncNever = "-1"

// Envelope is the wire-level message unit. Timestamps travel as RFC 3339.
type Envelope struct {
	Flag      Flag      `json:"flag"`
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// UnmarshalJSON tolerates the loose typing of the desktop client generation:
// sync requests zero the unused name and timestamp fields with bare numbers,
// and timestamps arrive as bare ISO-8601 without a zone offset.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw struct {
		Flag      Flag            `json:"flag"`
		ID        int64           `json:"id"`
		Name      json.RawMessage `json:"name"`
		Message   json.RawMessage `json:"message"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.Flag = raw.Flag
	e.ID = raw.ID

	var err error
	if e.Name, err = looseString(raw.Name); err != nil {
		return fmt.Errorf("name: %w", err)
	}
	if e.Message, err = looseString(raw.Message); err != nil {
		return fmt.Errorf("message: %w", err)
	}
	if e.Timestamp, err = looseTime(raw.Timestamp); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	return nil
}

// looseString accepts a JSON string or a bare number.
func looseString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// looseTime accepts an RFC 3339 string, a bare ISO-8601 string, or a numeric
// placeholder, which maps to the zero time.
func looseTime(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	if raw[0] != '"' {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return time.Time{}, err
		}
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, err
	}
	if s == "" {
		return time.Time{}, nil
	}
	return parseWireTime(s)
}

// Encode serializes an envelope to its JSON wire form.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope from its JSON wire form. Decode does not reject
// unknown flags; callers check Flag.Valid.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// ParseWatermark parses a client-supplied sync watermark. Clients produced by
// earlier desktop builds send bare ISO-8601 without a zone offset.
func ParseWatermark(s string) (time.Time, error) {
	ts, err := parseWireTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse watermark %q: %w", s, err)
	}
	return ts, nil
}

func parseWireTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}
