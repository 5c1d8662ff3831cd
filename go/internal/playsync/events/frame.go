package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is returned for frames whose type is not part of the protocol
var ErrUnknownType = errors.New("unknown frame type")

// FrameType represents the type of a relay channel frame
type FrameType string

const (
	// Client -> relay
	FrameJoinRoom  FrameType = "join-room"
	FrameLeaveRoom FrameType = "leave-room"
	FrameSendSync  FrameType = "send-sync"

	// Relay -> client
	FrameReceiveSync FrameType = "receive-sync"
	FrameJoined      FrameType = "joined"
	FrameError       FrameType = "error"
)

// Error codes carried in ErrorDetail
const (
	CodeMalformed = "malformed_frame"
	CodeNotJoined = "not_joined"
	CodeBadRoom   = "bad_room"
)

// Frame is the envelope for everything exchanged over the relay channel
type Frame struct {
	Type   FrameType       `json:"type"`
	RoomID string          `json:"roomId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail describes a rejected client frame
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (t FrameType) valid() bool {
	switch t {
	case FrameJoinRoom, FrameLeaveRoom, FrameSendSync, FrameReceiveSync, FrameJoined, FrameError:
		return true
	}
	return false
}

// DecodeFrame parses a frame envelope without interpreting its data
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !f.Type.valid() {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	if f.Type == FrameJoinRoom && f.RoomID == "" {
		return Frame{}, fmt.Errorf("%w: roomId", ErrMissingField)
	}
	if (f.Type == FrameSendSync || f.Type == FrameReceiveSync) && len(f.Data) == 0 {
		return Frame{}, fmt.Errorf("%w: data", ErrMissingField)
	}
	return f, nil
}

// RoutingRoom extracts only the roomId of a sync payload. The relay uses it to
// pick recipients and forwards the payload untouched.
func RoutingRoom(data json.RawMessage) (string, error) {
	var head struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.RoomID == "" {
		return "", fmt.Errorf("%w: roomId", ErrMissingField)
	}
	return head.RoomID, nil
}

// NewJoinRoom builds a join-room frame
func NewJoinRoom(roomID string) Frame {
	return Frame{Type: FrameJoinRoom, RoomID: roomID}
}

// NewSendSync wraps an event in a send-sync frame
func NewSendSync(ev SyncEvent) (Frame, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal sync event: %w", err)
	}
	return Frame{Type: FrameSendSync, Data: data}, nil
}

// NewReceiveSync wraps an already-encoded payload in a receive-sync frame
func NewReceiveSync(data json.RawMessage) Frame {
	return Frame{Type: FrameReceiveSync, Data: data}
}

// NewErrorFrame builds an error frame
func NewErrorFrame(code, message string) Frame {
	return Frame{Type: FrameError, Error: &ErrorDetail{Code: code, Message: message}}
}
