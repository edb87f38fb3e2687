package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	apperrors "github.com/louisbranch/codecollab/internal/platform/errors"
	"github.com/louisbranch/codecollab/internal/platform/telemetry/metrics"
	"github.com/louisbranch/codecollab/internal/platform/timeouts"
	"github.com/louisbranch/codecollab/internal/services/collab/assistant"
	"github.com/louisbranch/codecollab/internal/services/collab/gatekeeper"
	"github.com/louisbranch/codecollab/internal/services/collab/message"
)

const (
	maxFramePayloadBytes   = 1 << 20
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxMessageBodyRunes = 20000
)

// peer is one connection's outbound side: a bounded queue drained by a
// single writer goroutine. It implements room.Member.
type peer struct {
	id     string
	sender message.Sender
	conn   *websocket.Conn
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	out    chan message.Event
	done   chan struct{}
}

func newPeer(conn *websocket.Conn, sender message.Sender, queueSize int, logger zerolog.Logger) *peer {
	return &peer{
		id:     uuid.NewString(),
		sender: sender,
		conn:   conn,
		logger: logger,
		out:    make(chan message.Event, queueSize),
		done:   make(chan struct{}),
	}
}

func (p *peer) ConnectionID() string {
	return p.id
}

func (p *peer) Sender() message.Sender {
	return p.sender
}

// Deliver never blocks; a full or closed queue drops the event.
func (p *peer) Deliver(ev message.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.out <- ev:
		return true
	default:
		return false
	}
}

func (p *peer) writeLoop() {
	defer close(p.done)
	for ev := range p.out {
		_ = p.conn.SetWriteDeadline(time.Now().Add(timeouts.WriteFrame))
		if err := websocket.JSON.Send(p.conn, ev); err != nil {
			p.logger.Debug().Err(err).Str("connection_id", p.id).Msg("collab: write frame failed")
			_ = p.conn.Close()
			for range p.out {
			}
			return
		}
	}
}

func (p *peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.out)
}

// session is the inbound side of one admitted connection.
type session struct {
	h         *handler
	admission gatekeeper.Admission
	peer      *peer
	assistant *assistant.Queue
	logger    zerolog.Logger

	mu     sync.Mutex
	roomID string
}

// setRoom records next as the session's room and returns the previous one.
func (s *session) setRoom(next string) string {
	s.mu.Lock()
	previous := s.roomID
	s.roomID = next
	s.mu.Unlock()
	return previous
}

func (s *session) currentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// join binds the session to roomID, leaving any previous room first so a
// connection is never in two rooms.
func (s *session) join(roomID string) {
	if previous := s.setRoom(roomID); previous != "" && previous != roomID {
		s.h.rooms.Leave(previous, s.peer)
	}
	s.h.rooms.Join(roomID, s.peer)
}

func (s *session) leave() {
	if roomID := s.setRoom(""); roomID != "" {
		s.h.rooms.Leave(roomID, s.peer)
	}
}

func (h *handler) serveConn(conn *websocket.Conn, admission gatekeeper.Admission) {
	conn.MaxPayloadBytes = maxFramePayloadBytes
	sender := message.Sender{ID: admission.Identity.ID, Email: admission.Identity.Email}
	p := newPeer(conn, sender, h.deps.OutboundQueueSize, h.logger)
	go p.writeLoop()

	sess := &session{
		h:         h,
		admission: admission,
		peer:      p,
		logger: h.logger.With().
			Str("connection_id", p.id).
			Str("project_id", admission.Project.ID).
			Str("user_id", sender.ID).
			Logger(),
	}
	if h.deps.Assistant != nil {
		sess.assistant = h.deps.Assistant.NewQueue(h.ctx, h.deps.AssistantQueueDepth)
	}

	connDone := make(chan struct{})
	go func() {
		select {
		case <-h.ctx.Done():
			_ = conn.Close()
		case <-connDone:
		}
	}()

	sess.join(admission.Project.ID)
	metrics.ConnectionsActive.Inc()
	sess.logger.Info().Int("room_size", h.rooms.Size(admission.Project.ID)).Msg("collab: connection joined room")

	defer func() {
		sess.leave()
		// Flush queued replies before closing; writes are deadline-bounded.
		p.close()
		<-p.done
		_ = conn.Close()
		close(connDone)
		if sess.assistant != nil {
			sess.assistant.Close()
		}
		metrics.ConnectionsActive.Dec()
		sess.logger.Info().Msg("collab: connection left room")
	}()

	p.Deliver(message.Event{
		Type:         message.TypeJoined,
		ProjectID:    admission.Project.ID,
		ConnectionID: p.id,
		Members:      h.rooms.Members(admission.Project.ID),
	})

	sess.readLoop()
}

func (s *session) readLoop() {
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var ev message.Event
		if err := websocket.JSON.Receive(s.peer.conn, &ev); err != nil {
			if errors.Is(err, io.EOF) || s.h.ctx.Err() != nil {
				return
			}
			if isTransportError(err) {
				s.logger.Debug().Err(err).Msg("collab: read frame failed")
				return
			}
			decodeErrors++
			s.replyError("", apperrors.CodeInvalidArgument, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			s.replyError(ev.RequestID, apperrors.CodeResourceExhausted, "rate limit exceeded")
			return
		}

		switch ev.Type {
		case message.TypeMessage:
			s.handleMessage(ev)
		case message.TypeFileTreeGet:
			s.handleFileTreeGet(ev)
		case message.TypeFileTreeSave:
			s.handleFileTreeSave(ev)
		default:
			s.replyError(ev.RequestID, apperrors.CodeInvalidArgument, "unsupported event type")
		}
	}
}

// isTransportError separates a broken connection from a bad frame; only the
// latter is answered with an error event.
func isTransportError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}

func (s *session) handleMessage(ev message.Event) {
	if ev.Body == nil || ev.Body.IsZero() {
		s.replyError(ev.RequestID, apperrors.CodeInvalidArgument, "body is required")
		return
	}
	body := *ev.Body
	if !body.IsStructured() && utf8.RuneCountInString(body.Text) > maxMessageBodyRunes {
		s.replyError(ev.RequestID, apperrors.CodeInvalidArgument, "body is too long")
		return
	}
	roomID := s.currentRoom()
	if roomID == "" {
		return
	}

	out := message.NewMessage(message.NewID(), s.peer.sender, body, time.Now())
	s.h.rooms.Publish(roomID, s.peer.id, out)
	metrics.EventsRelayed.WithLabelValues(message.TypeMessage).Inc()

	if s.assistant == nil {
		return
	}
	req, ok := s.h.deps.Assistant.Match(roomID, body)
	if !ok {
		return
	}
	if !s.assistant.Submit(req) {
		metrics.AssistantInvocations.WithLabelValues(string(assistant.OutcomeBusy)).Inc()
		s.replyError(ev.RequestID, apperrors.CodeAssistantBusy, "assistant is busy, try again")
	}
}

func (s *session) handleFileTreeGet(ev message.Event) {
	if s.h.deps.Files == nil {
		s.replyError(ev.RequestID, apperrors.CodeFileTreeNotReady, "file tree is not configured")
		return
	}
	roomID := s.currentRoom()
	ctx, cancel := context.WithTimeout(s.h.ctx, timeouts.StoreLookup)
	tree, err := s.h.deps.Files.Tree(ctx, roomID)
	cancel()
	if err != nil {
		s.logger.Warn().Err(err).Msg("collab: file tree load failed")
		s.replyErr(ev.RequestID, err, "file tree is unavailable")
		return
	}
	s.peer.Deliver(message.Event{
		Type:      message.TypeFileTree,
		RequestID: ev.RequestID,
		ProjectID: roomID,
		Tree:      tree,
	})
}

func (s *session) handleFileTreeSave(ev message.Event) {
	if s.h.deps.Files == nil {
		s.replyError(ev.RequestID, apperrors.CodeFileTreeNotReady, "file tree is not configured")
		return
	}
	if ev.Content == nil {
		s.replyError(ev.RequestID, apperrors.CodeInvalidArgument, "content is required")
		return
	}
	roomID := s.currentRoom()
	ctx, cancel := context.WithTimeout(s.h.ctx, timeouts.StoreLookup)
	path, err := s.h.deps.Files.Save(ctx, roomID, ev.Path, *ev.Content)
	cancel()
	if err != nil {
		metrics.FileSaves.WithLabelValues("rejected").Inc()
		s.replyErr(ev.RequestID, err, "file save failed")
		return
	}
	metrics.FileSaves.WithLabelValues("saved").Inc()

	sender := s.peer.sender
	saved := message.Event{
		Type:      message.TypeFileTreeSaved,
		RequestID: ev.RequestID,
		Path:      path,
		Content:   ev.Content,
		Sender:    &sender,
	}
	if s.h.deps.BroadcastFileSaves {
		s.h.rooms.PublishAll(roomID, saved)
		metrics.EventsRelayed.WithLabelValues(message.TypeFileTreeSaved).Inc()
		return
	}
	s.peer.Deliver(saved)
}

func (s *session) replyErr(requestID string, err error, fallback string) {
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeUnknown {
		code = apperrors.CodeInvalidArgument
	}
	s.replyError(requestID, code, apperrors.MessageOf(err, fallback))
}

func (s *session) replyError(requestID string, code apperrors.Code, msg string) {
	s.peer.Deliver(message.NewError(requestID, string(code), msg))
}
