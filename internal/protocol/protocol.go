// Package protocol defines the tagged-union JSON messages exchanged with the
// analysis backend over the orchestrator websocket.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies the kind of websocket message.
type MessageType string

const (
	MsgFrame MessageType = "frame"
	MsgAudio MessageType = "audio"

	MsgFrameProcessed MessageType = "frame_processed"
	MsgTranscript     MessageType = "transcript"
	MsgQuestions      MessageType = "questions"
	MsgAnswer         MessageType = "answer"
	MsgAutoAnalysis   MessageType = "auto_analysis"
	MsgError          MessageType = "error"
)

// ErrMalformedMessage marks an inbound message that could not be parsed.
var ErrMalformedMessage = errors.New("malformed message")

// Outbound is a client-to-backend message.
type Outbound struct {
	Type MessageType `json:"type"`
	Data string      `json:"data"`
}

// Inbound is the envelope of a backend-to-client message. Data is decoded
// per type by the ingestor.
type Inbound struct {
	Type    MessageType     `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// FrameProcessed is the payload of a frame_processed message.
type FrameProcessed struct {
	Text       []string `json:"text"`
	UIElements []string `json:"ui_elements"`
}

// AutoAnalysis is the payload of an auto_analysis message.
type AutoAnalysis struct {
	Answer string `json:"answer"`
}

// FrameMessage wraps a JPEG image as a data URL frame message.
func FrameMessage(jpeg []byte) Outbound {
	return Outbound{
		Type: MsgFrame,
		Data: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg),
	}
}

// AudioMessage wraps an encoded audio unit as bare base64.
func AudioMessage(encoded []byte) Outbound {
	return Outbound{Type: MsgAudio, Data: base64.StdEncoding.EncodeToString(encoded)}
}

// DecodeInbound parses a raw websocket payload into an envelope.
func DecodeInbound(raw []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	msg.Type = MessageType(strings.TrimSpace(string(msg.Type)))
	if msg.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return msg, nil
}

// DecodeData unmarshals the envelope payload into out.
func (m Inbound) DecodeData(out any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%w: %s message without data", ErrMalformedMessage, m.Type)
	}
	if err := json.Unmarshal(m.Data, out); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, m.Type, err)
	}
	return nil
}
