package message

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestBodyMarshalText(t *testing.T) {
	data, err := json.Marshal(TextBody("hello"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"hello"` {
		t.Fatalf("body = %s, want %q", data, `"hello"`)
	}
}

func TestBodyMarshalStructured(t *testing.T) {
	data, err := json.Marshal(StructuredBody(map[string]any{"text": "X"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"text":"X"}` {
		t.Fatalf("body = %s, want object", data)
	}
}

func TestBodyUnmarshal(t *testing.T) {
	tests := []struct {
		name           string
		input          string
		wantText       string
		wantStructured bool
		wantErr        bool
	}{
		{name: "text", input: `"hi @ai"`, wantText: "hi @ai"},
		{name: "object", input: `{"code":"x := 1"}`, wantStructured: true},
		{name: "null", input: `null`},
		{name: "number", input: `42`, wantErr: true},
		{name: "array", input: `[1,2]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Body
			err := json.Unmarshal([]byte(tt.input), &b)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if b.Text != tt.wantText {
				t.Fatalf("text = %q, want %q", b.Text, tt.wantText)
			}
			if b.IsStructured() != tt.wantStructured {
				t.Fatalf("structured = %v, want %v", b.IsStructured(), tt.wantStructured)
			}
		})
	}
}

func TestEventUnmarshalInboundMessage(t *testing.T) {
	var ev Event
	if err := json.Unmarshal([]byte(`{"type":"message","request_id":"r1","body":"hello"}`), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != TypeMessage || ev.RequestID != "r1" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Body == nil || ev.Body.Text != "hello" {
		t.Fatalf("body = %+v, want hello", ev.Body)
	}
}

func TestNewMessageEncodesSenderAndTimestamp(t *testing.T) {
	sentAt := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	ev := NewMessage("01HX", Assistant(), StructuredBody(map[string]any{"text": "X"}), sentAt)

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(data)
	for _, want := range []string{`"type":"message"`, `"sender":{"id":"assistant"}`, `"body":{"text":"X"}`, `"sent_at":"2026-03-01T10:00:00Z"`} {
		if !strings.Contains(got, want) {
			t.Fatalf("event %s missing %s", got, want)
		}
	}
}

func TestErrorBodyShape(t *testing.T) {
	body := ErrorBody("ASSISTANT_TIMEOUT", "assistant timed out")
	errField, ok := body.Structured["error"].(map[string]any)
	if !ok {
		t.Fatalf("error field = %#v", body.Structured["error"])
	}
	if errField["code"] != "ASSISTANT_TIMEOUT" {
		t.Fatalf("code = %v", errField["code"])
	}
}

func TestSenderIsAssistant(t *testing.T) {
	if !Assistant().IsAssistant() {
		t.Fatal("expected assistant sender")
	}
	if (Sender{ID: "u1"}).IsAssistant() {
		t.Fatal("unexpected assistant match")
	}
}

func TestNewIDIsUnique(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b || len(a) != 26 {
		t.Fatalf("ids = %q, %q", a, b)
	}
}
