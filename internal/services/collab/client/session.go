// Package client is a Go session for the collab WebSocket endpoint.
//
// A Session is bound to exactly one project. Switching projects means closing
// the session and dialing a new one.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/codecollab/internal/services/collab/message"
)

// Config describes one session to dial.
type Config struct {
	// URL is the server base, http(s):// or ws(s)://; "/ws" is appended when
	// the path is empty.
	URL       string
	ProjectID string
	Token     string
	// Origin defaults to the server URL with an http(s) scheme.
	Origin string
}

// Session is an admitted connection to one project room.
type Session struct {
	conn      *websocket.Conn
	projectID string
	joined    message.Event

	sendMu sync.Mutex
}

// Dial opens a session and waits for the joined acknowledgement.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("project id is required")
	}
	wsURL, origin, err := endpoint(cfg.URL, cfg.Origin)
	if err != nil {
		return nil, err
	}
	query := wsURL.Query()
	query.Set("projectId", projectID)
	wsURL.RawQuery = query.Encode()

	wsCfg, err := websocket.NewConfig(wsURL.String(), origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		wsCfg.Header = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, err := wsCfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial collab: %w", err)
	}

	s := &Session{conn: conn, projectID: projectID}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	joined, err := s.Receive()
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("await joined: %w", err)
	}
	if joined.Type != message.TypeJoined {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first event %q", joined.Type)
	}
	s.joined = joined
	return s, nil
}

func endpoint(raw string, origin string) (*url.URL, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, "", errors.New("server url host is required")
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	if origin = strings.TrimSpace(origin); origin == "" {
		scheme := "http"
		if u.Scheme == "wss" {
			scheme = "https"
		}
		origin = scheme + "://" + u.Host
	}
	return u, origin, nil
}

// ProjectID returns the project the session is bound to.
func (s *Session) ProjectID() string {
	return s.projectID
}

// ConnectionID returns the server-assigned connection id.
func (s *Session) ConnectionID() string {
	return s.joined.ConnectionID
}

// Members returns the room members listed when the session joined.
func (s *Session) Members() []message.Sender {
	return append([]message.Sender(nil), s.joined.Members...)
}

// Send writes one event. Safe for concurrent use.
func (s *Session) Send(ev message.Event) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := websocket.JSON.Send(s.conn, ev); err != nil {
		return fmt.Errorf("send %s: %w", ev.Type, err)
	}
	return nil
}

// SendMessage sends a chat message with body.
func (s *Session) SendMessage(body message.Body) error {
	return s.Send(message.Event{Type: message.TypeMessage, Body: &body})
}

// RequestFileTree asks for the project's file tree; the reply arrives as a
// filetree event.
func (s *Session) RequestFileTree(requestID string) error {
	return s.Send(message.Event{Type: message.TypeFileTreeGet, RequestID: requestID})
}

// SaveFile submits a whole-file save.
func (s *Session) SaveFile(requestID, path, content string) error {
	return s.Send(message.Event{
		Type:      message.TypeFileTreeSave,
		RequestID: requestID,
		Path:      path,
		Content:   message.StringPtr(content),
	})
}

// Receive blocks until the next event arrives. Use SetReadDeadline to bound
// it. Not safe for concurrent use.
func (s *Session) Receive() (message.Event, error) {
	var ev message.Event
	if err := websocket.JSON.Receive(s.conn, &ev); err != nil {
		return message.Event{}, err
	}
	return ev, nil
}

// SetReadDeadline bounds subsequent Receive calls.
func (s *Session) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// Close ends the session; the server removes it from the room.
func (s *Session) Close() error {
	return s.conn.Close()
}
