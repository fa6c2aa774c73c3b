// Package api exposes the inspection sequencer and submission queue over
// HTTP. The transport is thin: it binds requests, invokes the sequencer, and
// renders session snapshots; all state rules live in the core.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldcert/fieldcert/internal/config"
	"github.com/fieldcert/fieldcert/internal/inspection/model"
	"github.com/fieldcert/fieldcert/internal/inspection/sequencer"
	"github.com/fieldcert/fieldcert/internal/log"
	"github.com/fieldcert/fieldcert/internal/queue"
)

// Server wires the HTTP surface to the core components.
type Server struct {
	sessions *sequencer.Registry
	seq      *sequencer.Sequencer
	queue    *queue.Queue
	cfg      config.Config
}

// NewServer builds the HTTP server facade.
func NewServer(sessions *sequencer.Registry, seq *sequencer.Sequencer, q *queue.Queue, cfg config.Config) *Server {
	return &Server{sessions: sessions, seq: seq, queue: q, cfg: cfg}
}

// Router assembles the chi router with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(Logging)
	r.Use(RateLimit(s.cfg.RateLimit))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/begin", s.handleBegin)
			r.Post("/retry", s.handleRetry)
			r.Post("/skip", s.handleSkip)
			r.Post("/override", s.handleOverride)
			r.Post("/form", s.handleSubmitForm)
			r.Post("/photo", s.handleCapturePhoto)
		})
		r.Get("/queue", s.handleQueueStatus)
		r.Post("/queue/flush", s.handleQueueFlush)
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

type createSessionRequest struct {
	LocationContext model.LocationContext `json:"locationContext"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}
	if strings.TrimSpace(req.LocationContext.ID) == "" {
		writeError(w, r, http.StatusBadRequest, "validation", "locationContext.id is required")
		return
	}

	sess := s.sessions.Create(req.LocationContext)
	log.WithComponentFromContext(r.Context(), "api").Info().
		Str(log.FieldSessionID, sess.ID).
		Str(log.FieldLocationID, req.LocationContext.ID).
		Msg("session created")
	writeJSON(w, r, http.StatusCreated, sess.Clone())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.renderSession(w, r, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.seq.Retire(sess.ID)
	s.sessions.Retire(sess.ID)
	writeJSON(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	s.runOp(w, r, func(ctx sessionCtx) error {
		return s.seq.Begin(ctx.ctx, ctx.session)
	})
}

type retryRequest struct {
	Method model.Method `json:"method"`
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}
	s.runOp(w, r, func(ctx sessionCtx) error {
		return s.seq.Retry(ctx.ctx, ctx.session, req.Method)
	})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	s.runOp(w, r, func(ctx sessionCtx) error {
		return s.seq.Skip(ctx.ctx, ctx.session)
	})
}

type overrideRequest struct {
	Reason model.OverrideReason `json:"reason"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}
	s.runOp(w, r, func(ctx sessionCtx) error {
		return s.seq.RecordOverride(ctx.ctx, ctx.session, req.Reason)
	})
}

func (s *Server) handleSubmitForm(w http.ResponseWriter, r *http.Request) {
	var data model.FormData
	if err := decodeBody(r, &data); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}
	s.runOp(w, r, func(ctx sessionCtx) error {
		return s.seq.SubmitForm(ctx.ctx, ctx.session, data)
	})
}

type photoRequest struct {
	Online *bool `json:"online"`
}

func (s *Server) handleCapturePhoto(w http.ResponseWriter, r *http.Request) {
	var req photoRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}
	online := s.cfg.AssumeOnline
	if req.Online != nil {
		online = *req.Online
	}
	s.runOp(w, r, func(ctx sessionCtx) error {
		return s.seq.CapturePhoto(ctx.ctx, ctx.session, online)
	})
}

type queueStatusResponse struct {
	Depth   int                `json:"depth"`
	Entries []queueEntryStatus `json:"entries"`
}

type queueEntryStatus struct {
	SessionID       string                 `json:"sessionId"`
	Status          model.SubmissionStatus `json:"status"`
	EnqueuedAtUnix  int64                  `json:"enqueuedAtUnix"`
	Attempts        int                    `json:"attempts"`
	NextAttemptUnix int64                  `json:"nextAttemptUnix,omitempty"`
	LastError       string                 `json:"lastError,omitempty"`
	SyncedAtUnix    int64                  `json:"syncedAtUnix,omitempty"`
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	entries, err := s.queue.Entries(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	resp := queueStatusResponse{Entries: make([]queueEntryStatus, 0, len(entries))}
	for _, e := range entries {
		if e.Status == model.SubmissionQueued {
			resp.Depth++
		}
		resp.Entries = append(resp.Entries, queueEntryStatus{
			SessionID:       e.SessionID,
			Status:          e.Status,
			EnqueuedAtUnix:  e.EnqueuedAtUnix,
			Attempts:        e.Attempts,
			NextAttemptUnix: e.NextAttemptUnix,
			LastError:       e.LastError,
			SyncedAtUnix:    e.SyncedAtUnix,
		})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

type flushRequest struct {
	Online *bool `json:"online"`
}

type flushResponse struct {
	Synced int `json:"synced"`
	Depth  int `json:"depth"`
}

func (s *Server) handleQueueFlush(w http.ResponseWriter, r *http.Request) {
	var req flushRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}
	online := s.cfg.AssumeOnline
	if req.Online != nil {
		online = *req.Online
	}
	synced, err := s.queue.Flush(r.Context(), online)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, flushResponse{Synced: synced, Depth: depth})
}

// sessionCtx bundles the looked-up session with a request context enriched
// for correlation.
type sessionCtx struct {
	ctx     context.Context
	session *model.Session
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*model.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeDomainError(w, r, err)
		return nil, false
	}
	return sess, true
}

// runOp performs one sequencer operation and renders the resulting snapshot,
// or the mapped domain error.
func (s *Server) runOp(w http.ResponseWriter, r *http.Request, op func(sessionCtx) error) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ctx := log.ContextWithSessionID(r.Context(), sess.ID)
	if err := op(sessionCtx{ctx: ctx, session: sess}); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.renderSession(w, r, sess)
}

// renderSession serializes a locked snapshot of the session. For a completed
// session the queue store is authoritative for submission status: a background
// flush advances the stored entry without touching the live session.
func (s *Server) renderSession(w http.ResponseWriter, r *http.Request, sess *model.Session) {
	snap := s.seq.Snapshot(sess)
	if snap.Step == model.StepComplete {
		if status, err := s.queue.Status(r.Context(), snap.ID); err == nil {
			snap.SubmissionStatus = status
		}
	}
	writeJSON(w, r, http.StatusOK, snap)
}
