package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"chathub/internal/metrics"
	"chathub/internal/servicetoken"
	"chathub/internal/usertoken"
	"chathub/internal/util"
	"chathub/pkg/domain"
	"chathub/pkg/realtime"
	"chathub/services/chat/internal/app"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

// IdentityVerifier validates end-user session tokens.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (usertoken.Identity, error)
}

// ServiceVerifier validates internal operator tokens.
type ServiceVerifier interface {
	Verify(token, action string) (servicetoken.Claims, error)
}

// EventSource hands out topic subscriptions for the event stream.
type EventSource interface {
	Subscribe(topics ...string) *realtime.Subscription
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Identity IdentityVerifier
	// Internal guards the cron trigger; the route answers 500 when unset.
	Internal       ServiceVerifier
	Events         EventSource
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the chat service.
type Server struct {
	app      *app.App
	identity IdentityVerifier
	internal ServiceVerifier
	events   EventSource
	trusted  *util.TrustedProxies
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Identity == nil {
		return nil, errors.New("identity verifier required")
	}
	s := &Server{
		app:      cfg.App,
		identity: cfg.Identity,
		internal: cfg.Internal,
		events:   cfg.Events,
		trusted:  cfg.TrustedProxies,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(
		util.WithRequestLog("chat", s.trusted, metrics.WithHTTPMetrics(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("POST /api/cron/digest", s.withInternal(servicetoken.ActionRunDigest, s.handleRunDigest))

	// profiles, servers, conversations
	s.mux.Handle("POST /api/profile", s.withIdentity(s.handleProfile))
	s.mux.Handle("POST /api/servers", s.withUser(s.handleCreateServer))
	s.mux.Handle("POST /api/conversations", s.withUser(s.handleOpenConversation))

	// channel messages
	s.mux.Handle("GET /api/messages", s.scoped(channelRef, s.handleListMessages))
	s.mux.Handle("POST /api/messages", s.scoped(channelRef, s.handlePostMessage))
	s.mux.Handle("PATCH /api/messages/{messageId}", s.scoped(channelRef, s.handleEditMessage("messageId")))
	s.mux.Handle("DELETE /api/messages/{messageId}", s.scoped(channelRef, s.handleDeleteMessage("messageId")))

	// direct messages
	s.mux.Handle("GET /api/direct-messages", s.scoped(conversationRef, s.handleListMessages))
	s.mux.Handle("POST /api/direct-messages", s.scoped(conversationRef, s.handlePostMessage))
	s.mux.Handle("PATCH /api/direct-messages/{directMessageId}", s.scoped(conversationRef, s.handleEditMessage("directMessageId")))
	s.mux.Handle("DELETE /api/direct-messages/{directMessageId}", s.scoped(conversationRef, s.handleDeleteMessage("directMessageId")))

	s.mux.Handle("GET /api/summaries", s.scoped(anyRef, s.handleSummaries))
	s.mux.Handle("GET /api/events", s.scoped(anyRef, s.handleEvents))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type identityHandler func(http.ResponseWriter, *http.Request, usertoken.Identity)

// withIdentity verifies the bearer token. The event stream may pass the
// token as the "token" query parameter since browsers cannot set headers on
// websocket handshakes.
func (s *Server) withIdentity(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok && r.URL.Path == "/api/events" {
			token = strings.TrimSpace(r.URL.Query().Get("token"))
			ok = token != ""
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		id, err := s.identity.Verify(r.Context(), token)
		if err != nil {
			util.LoggerFromContext(r.Context()).Info("token rejected", "err", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		logger := util.LoggerFromContext(r.Context()).With("user_id", id.UserID)
		next(w, r.WithContext(util.ContextWithLogger(r.Context(), logger)), id)
	})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return s.withIdentity(func(w http.ResponseWriter, r *http.Request, id usertoken.Identity) {
		next(w, r, id.UserID)
	})
}

type scopedHandler func(http.ResponseWriter, *http.Request, app.Membership)

// scoped authorizes the caller in the scope named by the query string and
// hands the membership to next.
func (s *Server) scoped(ref func(*http.Request) app.ScopeRef, next scopedHandler) http.Handler {
	return s.withUser(func(w http.ResponseWriter, r *http.Request, userID string) {
		m, err := s.app.Authorize(r.Context(), userID, ref(r))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		next(w, r, m)
	})
}

func (s *Server) withInternal(action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.internal == nil {
			writeError(w, http.StatusInternalServerError, "internal auth not configured")
			return
		}
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := s.internal.Verify(token, action)
		if err != nil {
			util.LoggerFromContext(r.Context()).Info("service token rejected", "err", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		logger := util.LoggerFromContext(r.Context()).With("caller", claims.Issuer, "jti", claims.ID)
		next(w, r.WithContext(util.ContextWithLogger(r.Context(), logger)))
	}
}

func channelRef(r *http.Request) app.ScopeRef {
	q := r.URL.Query()
	return app.ChannelRef(q.Get("serverId"), q.Get("channelId"))
}

func conversationRef(r *http.Request) app.ScopeRef {
	return app.ConversationRef(r.URL.Query().Get("conversationId"))
}

// anyRef targets a conversation when conversationId is present and a
// channel otherwise.
func anyRef(r *http.Request) app.ScopeRef {
	if strings.TrimSpace(r.URL.Query().Get("conversationId")) != "" {
		return conversationRef(r)
	}
	return channelRef(r)
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps application sentinels to status codes. Anything
// unrecognised is logged and reported as a generic 500.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// summaryList wraps summaries so the response is always an object.
type summaryList struct {
	Items []domain.Summary `json:"items"`
}
