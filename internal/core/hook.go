package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/keepmind9/statebot/internal/logger"
	"github.com/keepmind9/statebot/internal/message"
	"github.com/keepmind9/statebot/pkg/constants"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// startHookServer creates the HTTP hook server and serves it in the
// background until Stop shuts it down
func (e *Engine) startHookServer() {
	addr := fmt.Sprintf(":%d", e.config.HookServer.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      e.HookHandler(),
		ReadTimeout:  constants.HookHTTPTimeout,
		WriteTimeout: constants.HookHTTPTimeout,
	}
	e.hookServer = srv

	logger.WithField("address", addr).Info("hook-server-listening")

	go func() {
		// When Shutdown() is called, ListenAndServe will return ErrServerClosed
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("hook-server-error: %v", err)
		}
		logger.Info("hook-server-stopped")
	}()
}

// HookHandler returns the router of the hook server:
//
//	POST /events        inject a decoded event (rate limited)
//	GET  /metrics       prometheus metrics
//	GET  /debug/states  state tree dump
//	GET  /healthz       liveness and connected bots
func (e *Engine) HookHandler() http.Handler {
	r := chi.NewRouter()

	r.With(httprate.Limit(
		e.config.HookServer.RateLimit,
		constants.HookRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(constants.HookRateWindow.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limit_exceeded"})
		}),
	)).Post("/events", e.handleInjectEvent)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/debug/states", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, e.Dump())
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"bots":     e.ConnectedBots(),
			"sessions": e.sessions.Len(),
		})
	})
	return r
}

// injectRequest is the body of POST /events. Text is a shortcut for a
// message made of one text segment.
type injectRequest struct {
	ID             string          `json:"id"`
	BotID          string          `json:"bot_id"`
	ConversationID string          `json:"conversation_id"`
	Kind           message.Kind    `json:"kind"`
	SenderID       string          `json:"sender_id"`
	SenderName     string          `json:"sender_name"`
	Text           string          `json:"text"`
	Message        message.Message `json:"message"`
}

// handleInjectEvent dispatches an event received over HTTP, as if a
// transport had delivered it, and waits for the dispatch to finish
func (e *Engine) handleInjectEvent(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, constants.MaxHookBodyBytes+1))
	if err != nil {
		logger.Errorf("failed-to-read-request-body: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	defer r.Body.Close()
	if len(data) > constants.MaxHookBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
		return
	}

	var req injectRequest
	if err := json.Unmarshal(data, &req); err != nil {
		logger.WithField("error", err).Warn("invalid-injected-event")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ev, err := req.event()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if _, err := e.transport(ev.BotID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	logger.WithFields(logrus.Fields{
		"bot":          ev.BotID,
		"conversation": ev.ConversationID,
		"event_id":     ev.ID,
	}).Info("event-injected")

	e.HandleEvent(e.ctx, ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": ev.ID})
}

func (req injectRequest) event() (message.Event, error) {
	if req.BotID == "" || req.ConversationID == "" {
		return message.Event{}, errors.New("bot_id and conversation_id are required")
	}
	kind := req.Kind
	switch kind {
	case "":
		kind = message.KindGroup
	case message.KindGroup, message.KindPrivate:
	default:
		return message.Event{}, fmt.Errorf("unknown kind %q", req.Kind)
	}

	msg := req.Message
	if len(msg) == 0 {
		if strings.TrimSpace(req.Text) == "" {
			return message.Event{}, errors.New("text or message is required")
		}
		msg = message.FromText(req.Text)
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	return message.Event{
		ID:             id,
		BotID:          req.BotID,
		ConversationID: req.ConversationID,
		Kind:           kind,
		SenderID:       req.SenderID,
		SenderName:     req.SenderName,
		Message:        msg,
		Time:           time.Now(),
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithField("error", err).Debug("failed-to-write-response")
	}
}
