// Package message defines the events exchanged over a collaboration
// connection.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event types carried in the "type" field.
const (
	TypeMessage       = "message"
	TypeJoined        = "joined"
	TypeError         = "error"
	TypeFileTreeGet   = "filetree.get"
	TypeFileTree      = "filetree"
	TypeFileTreeSave  = "filetree.save"
	TypeFileTreeSaved = "filetree.saved"
)

// AssistantID is the reserved sender id of assistant-originated messages.
const AssistantID = "assistant"

// ErrEmptyBody reports a body that carries neither text nor an object.
var ErrEmptyBody = errors.New("message body is empty")

// Body is either free text or a structured JSON object. Exactly one side is
// set on a valid body.
type Body struct {
	Text       string
	Structured map[string]any
}

// TextBody builds a text body.
func TextBody(text string) Body {
	return Body{Text: text}
}

// StructuredBody builds a structured body.
func StructuredBody(fields map[string]any) Body {
	return Body{Structured: fields}
}

// IsStructured reports whether the body is the structured variant.
func (b Body) IsStructured() bool {
	return b.Structured != nil
}

// IsZero reports whether the body carries nothing.
func (b Body) IsZero() bool {
	return b.Structured == nil && b.Text == ""
}

// MarshalJSON encodes text as a JSON string and structured bodies as an object.
func (b Body) MarshalJSON() ([]byte, error) {
	if b.Structured != nil {
		return json.Marshal(b.Structured)
	}
	return json.Marshal(b.Text)
}

// UnmarshalJSON accepts a JSON string or a JSON object.
func (b *Body) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*b = Body{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return fmt.Errorf("decode text body: %w", err)
		}
		*b = Body{Text: text}
		return nil
	case '{':
		fields := map[string]any{}
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return fmt.Errorf("decode structured body: %w", err)
		}
		*b = Body{Structured: fields}
		return nil
	default:
		return fmt.Errorf("body must be a string or an object")
	}
}

// Sender identifies who produced an event.
type Sender struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Assistant is the synthetic sender used for generated replies.
func Assistant() Sender {
	return Sender{ID: AssistantID}
}

// IsAssistant reports whether the sender is the reserved assistant identity.
func (s Sender) IsAssistant() bool {
	return s.ID == AssistantID
}

// ErrorDetail is the machine-readable failure carried by error events and
// error-marked assistant bodies.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is one JSON frame on the wire. Fields are populated per type.
type Event struct {
	Type         string            `json:"type"`
	RequestID    string            `json:"request_id,omitempty"`
	ID           string            `json:"id,omitempty"`
	Body         *Body             `json:"body,omitempty"`
	Sender       *Sender           `json:"sender,omitempty"`
	SentAt       string            `json:"sent_at,omitempty"`
	ProjectID    string            `json:"project_id,omitempty"`
	ConnectionID string            `json:"connection_id,omitempty"`
	Members      []Sender          `json:"members,omitempty"`
	Path         string            `json:"path,omitempty"`
	Content      *string           `json:"content,omitempty"`
	Tree         map[string]string `json:"tree,omitempty"`
	Error        *ErrorDetail      `json:"error,omitempty"`
}

// NewMessage builds a relayed message event.
func NewMessage(id string, sender Sender, body Body, sentAt time.Time) Event {
	return Event{
		Type:   TypeMessage,
		ID:     id,
		Body:   &body,
		Sender: &sender,
		SentAt: sentAt.UTC().Format(time.RFC3339Nano),
	}
}

// NewError builds an error event answering requestID.
func NewError(requestID, code, message string) Event {
	return Event{
		Type:      TypeError,
		RequestID: requestID,
		Error:     &ErrorDetail{Code: code, Message: message},
	}
}

// ErrorBody builds the structured body of an error-marked assistant message.
func ErrorBody(code, message string) Body {
	return StructuredBody(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// StringPtr returns a pointer to value, used for optional content fields.
func StringPtr(value string) *string {
	return &value
}

// NewID returns a lexically sortable event id.
func NewID() string {
	return ulid.Make().String()
}
