package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	apperrors "github.com/louisbranch/codecollab/internal/platform/errors"
	"github.com/louisbranch/codecollab/internal/platform/telemetry/metrics"
	"github.com/louisbranch/codecollab/internal/services/collab/assistant"
	"github.com/louisbranch/codecollab/internal/services/collab/filetree"
	"github.com/louisbranch/codecollab/internal/services/collab/gatekeeper"
	"github.com/louisbranch/codecollab/internal/services/collab/room"
)

const (
	tokenCookieName = "token"
	tokenQueryParam = "token"
	projectIDParam  = "projectId"

	defaultOutboundQueueSize = 64
)

// Admitter decides whether a handshake may open a connection.
type Admitter interface {
	Admit(ctx context.Context, credential string, projectID string) (gatekeeper.Admission, error)
}

// Deps wires the collaborators of the transport boundary. Rooms defaults to a
// fresh registry; Assistant and Files are optional.
type Deps struct {
	Admitter  Admitter
	Rooms     *room.Registry
	Assistant *assistant.Pipeline
	Files     *filetree.Cache
	Logger    zerolog.Logger

	AllowedOrigins []string
	// BroadcastFileSaves relays each save to the whole room instead of only
	// acknowledging the submitter. Enhancement, off by default.
	BroadcastFileSaves  bool
	OutboundQueueSize   int
	AssistantQueueDepth int
}

type handler struct {
	deps    Deps
	rooms   *room.Registry
	logger  zerolog.Logger
	origins originPolicy

	// ctx bounds connection and assistant work; canceled on shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHandler creates collab routes. Without an Admitter every WebSocket
// handshake is refused with 503.
func NewHandler(deps Deps) http.Handler {
	return newHandler(deps).routes()
}

func newHandler(deps Deps) *handler {
	rooms := deps.Rooms
	if rooms == nil {
		rooms = room.NewRegistry()
	}
	if deps.OutboundQueueSize <= 0 {
		deps.OutboundQueueSize = defaultOutboundQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &handler{
		deps:    deps,
		rooms:   rooms,
		logger:  deps.Logger,
		origins: newOriginPolicy(deps.AllowedOrigins),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (h *handler) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.origins.corsOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/", h.serveInfo)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws", h.serveWS)
	return r
}

func (h *handler) shutdown() {
	h.cancel()
}

func (h *handler) serveInfo(w http.ResponseWriter, _ *http.Request) {
	info := map[string]any{
		"service": "codecollab",
		"rooms":   len(h.rooms.Rooms()),
	}
	if h.deps.Assistant != nil {
		info["assistant_marker"] = h.deps.Assistant.Marker()
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	if !h.origins.allows(r.Header.Get("Origin")) {
		h.refuse(w, r, apperrors.New(apperrors.CodeOriginNotAllowed, "origin not allowed"))
		return
	}
	if h.deps.Admitter == nil {
		h.refuse(w, r, apperrors.New(apperrors.CodeAdmissionUnavailable, "websocket admission is not configured"))
		return
	}

	projectID := strings.TrimSpace(r.URL.Query().Get(projectIDParam))
	admission, err := h.deps.Admitter.Admit(r.Context(), credentialFromRequest(r), projectID)
	if err != nil {
		h.refuse(w, r, err)
		return
	}
	metrics.Admissions.WithLabelValues("admitted").Inc()

	ws := websocket.Server{
		Handshake: func(_ *websocket.Config, req *http.Request) error {
			if !h.origins.allows(req.Header.Get("Origin")) {
				return errors.New("origin not allowed")
			}
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			h.serveConn(conn, admission)
		},
	}
	ws.ServeHTTP(w, r)
}

// refuse answers a failed handshake before upgrade.
func (h *handler) refuse(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeUnknown {
		code = apperrors.CodeAdmissionUnavailable
	}
	metrics.Admissions.WithLabelValues(string(code)).Inc()
	h.logger.Info().
		Str("code", string(code)).
		Str("remote_addr", r.RemoteAddr).
		Str("project_id", r.URL.Query().Get(projectIDParam)).
		Err(err).
		Msg("collab: admission refused")

	writeJSON(w, code.HTTPStatus(), map[string]any{
		"error": map[string]string{
			"code":    string(code),
			"message": apperrors.MessageOf(err, "admission is temporarily unavailable"),
		},
	})
}

// credentialFromRequest reads the bearer credential from the Authorization
// header, then the token cookie, then the token query parameter.
func credentialFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	if cookie, err := r.Cookie(tokenCookieName); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(tokenQueryParam))
}

type originPolicy struct {
	any     bool
	allowed map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	policy := originPolicy{allowed: make(map[string]struct{})}
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" {
			continue
		}
		if origin == "*" {
			policy.any = true
			continue
		}
		policy.allowed[strings.ToLower(origin)] = struct{}{}
	}
	if len(policy.allowed) == 0 {
		policy.any = true
	}
	return policy
}

// allows accepts requests without an Origin header; only browsers send one.
func (p originPolicy) allows(origin string) bool {
	origin = strings.TrimSpace(origin)
	if p.any || origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	_, ok := p.allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
	return ok
}

func (p originPolicy) corsOrigins() []string {
	if p.any {
		return []string{"*"}
	}
	out := make([]string, 0, len(p.allowed))
	for origin := range p.allowed {
		out = append(out, origin)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
