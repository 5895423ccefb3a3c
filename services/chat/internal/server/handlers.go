package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"chathub/internal/usertoken"
	"chathub/internal/util"
	"chathub/services/chat/internal/app"
	"github.com/gorilla/websocket"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second
	// digestWriteTimeout outlasts a full digest run, which generates once per
	// active channel.
	digestWriteTimeout = 15 * time.Minute
)

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, id usertoken.Identity) {
	profile, err := s.app.EnsureProfile(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type createServerRequest struct {
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request, userID string) {
	var req createServerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	server, err := s.app.CreateServer(r.Context(), userID, req.Name, req.ImageURL)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, server)
}

type openConversationRequest struct {
	ServerID string `json:"serverId"`
	MemberID string `json:"memberId"`
	WithBot  bool   `json:"withBot"`
}

func (s *Server) handleOpenConversation(w http.ResponseWriter, r *http.Request, userID string) {
	var req openConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.WithBot && strings.TrimSpace(req.MemberID) == "" {
		writeError(w, http.StatusBadRequest, "memberId is required")
		return
	}
	conv, err := s.app.OpenConversation(r.Context(), userID, req.ServerID, req.MemberID, req.WithBot)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, m app.Membership) {
	q := r.URL.Query()
	take := 0
	if raw := strings.TrimSpace(q.Get("take")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "take must be a positive integer")
			return
		}
		take = n
	}
	page, err := s.app.List(r.Context(), m, q.Get("cursor"), take)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type postMessageRequest struct {
	Content string  `json:"content"`
	FileURL *string `json:"fileUrl"`
}

// handlePostMessage answers 201 with the stored message, 200 with the bot
// placeholder for a handled command, or 202 when the command was accepted
// but the bot could not be bootstrapped.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request, m app.Membership) {
	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.Post(r.Context(), m, req.Content, req.FileURL)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	switch {
	case res.Command && res.Placeholder != nil:
		writeJSON(w, http.StatusOK, res.Placeholder)
	case res.Command:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	default:
		writeJSON(w, http.StatusCreated, res.Message)
	}
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleEditMessage(param string) scopedHandler {
	return func(w http.ResponseWriter, r *http.Request, m app.Membership) {
		var req editMessageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := s.app.Edit(r.Context(), m, r.PathValue(param), req.Content)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleDeleteMessage(param string) scopedHandler {
	return func(w http.ResponseWriter, r *http.Request, m app.Membership) {
		msg, err := s.app.SoftDelete(r.Context(), m, r.PathValue(param))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request, m app.Membership) {
	items, err := s.app.ListSummaries(r.Context(), m)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryList{Items: items})
}

func (s *Server) handleRunDigest(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(digestWriteTimeout)); err != nil {
		util.LoggerFromContext(r.Context()).Warn("extend digest write deadline", "err", err)
	}
	report, err := s.app.RunDigest(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleEvents streams the scope's events as JSON text frames until either
// side goes away. Frames the client sends are discarded.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, m app.Membership) {
	if s.events == nil {
		writeError(w, http.StatusInternalServerError, "event stream not configured")
		return
	}
	logger := util.LoggerFromContext(r.Context())
	sub := s.events.Subscribe(m.Scope.Topic())
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Info("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Info("event stream closed", "topic", ev.Topic, "err", err)
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(eventWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Info("event stream ping failed", "err", err)
				return
			}
		}
	}
}
