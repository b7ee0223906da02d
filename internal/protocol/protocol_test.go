package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestFrameMessageUsesJPEGDataURL(t *testing.T) {
	t.Parallel()

	msg := FrameMessage([]byte{0xff, 0xd8, 0xff})
	if msg.Type != MsgFrame {
		t.Fatalf("unexpected type: %s", msg.Type)
	}
	if !strings.HasPrefix(msg.Data, "data:image/jpeg;base64,") {
		t.Fatalf("expected data url, got %q", msg.Data)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(raw), `"type":"frame"`) {
		t.Fatalf("unexpected wire form: %s", raw)
	}
}

func TestAudioMessageIsBareBase64(t *testing.T) {
	t.Parallel()

	msg := AudioMessage([]byte("fLaC"))
	if msg.Type != MsgAudio {
		t.Fatalf("unexpected type: %s", msg.Type)
	}
	decoded, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		t.Fatalf("expected plain base64, got %q: %v", msg.Data, err)
	}
	if string(decoded) != "fLaC" {
		t.Fatalf("unexpected payload: %q", decoded)
	}
}

func TestDecodeInbound(t *testing.T) {
	t.Parallel()

	msg, err := DecodeInbound([]byte(`{"type":"questions","data":["a","b"]}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Type != MsgQuestions {
		t.Fatalf("unexpected type: %s", msg.Type)
	}

	var questions []string
	if err := msg.DecodeData(&questions); err != nil {
		t.Fatalf("decode data failed: %v", err)
	}
	if len(questions) != 2 || questions[1] != "b" {
		t.Fatalf("unexpected questions: %v", questions)
	}
}

func TestDecodeInboundMalformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{`not json`, `{"data":"x"}`, `{"type":"  "}`} {
		if _, err := DecodeInbound([]byte(raw)); !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("expected ErrMalformedMessage for %q, got %v", raw, err)
		}
	}
}

func TestDecodeDataErrors(t *testing.T) {
	t.Parallel()

	var text string
	if err := (Inbound{Type: MsgTranscript}).DecodeData(&text); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected missing data error, got %v", err)
	}

	msg := Inbound{Type: MsgTranscript, Data: json.RawMessage(`{"nope":1}`)}
	if err := msg.DecodeData(&text); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected payload error, got %v", err)
	}
}

func TestDecodeInboundKeepsErrorMessage(t *testing.T) {
	t.Parallel()

	msg, err := DecodeInbound([]byte(`{"type":"error","message":"Unsupported message type: ping"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Type != MsgError || msg.Message != "Unsupported message type: ping" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
