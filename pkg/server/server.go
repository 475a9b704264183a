// Copyright 2026 Tudor Baraboi
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server is the public edge of the backend: the chat websocket
// that streams orchestrator turns, the personal-document REST surface,
// health, and metrics. All per-user identity comes from validated
// tokens; the fingerprint is never read from client-supplied fields.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/tudor-baraboi/cfr-agents/pkg/agent"
	"github.com/tudor-baraboi/cfr-agents/pkg/auth"
	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/observability"
	"github.com/tudor-baraboi/cfr-agents/pkg/orchestrator"
	"github.com/tudor-baraboi/cfr-agents/pkg/personal"
	"github.com/tudor-baraboi/cfr-agents/pkg/proxyclient"
	"github.com/tudor-baraboi/cfr-agents/pkg/quota"
)

// defaultDocumentIndex is assumed when an upload or listing names no
// index, matching the web client's primary agent.
const defaultDocumentIndex = "faa-agent"

// maxUploadBody bounds the multipart request body. The document
// service enforces the real per-file limit; this only stops grossly
// oversized requests from being buffered.
const maxUploadBody = 32 << 20

// turnEngine is the slice of the orchestrator the server drives.
type turnEngine interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (<-chan orchestrator.Event, error)
	EndConversation(conversationID string)
}

// documentService is the slice of the personal-document service behind
// the REST routes.
type documentService interface {
	Upload(ctx context.Context, up personal.Upload) (*personal.Receipt, error)
	List(ctx context.Context, fingerprint, index string) (*proxyclient.DocumentList, error)
	Delete(ctx context.Context, documentID, fingerprint, index string) (*proxyclient.DeleteResult, error)
}

// Server is the public HTTP/WebSocket server.
type Server struct {
	cfg    config.ServerConfig
	orch   turnEngine
	agents *agent.Registry
	quota  quota.Service
	auth   auth.Validator
	docs   documentService
	logger *slog.Logger

	upgrader websocket.Upgrader

	// baseCtx parents every chat session; Shutdown cancels it so
	// sessions close cleanly.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]int // open sessions per conversation

	http *http.Server
}

// New wires the server. The quota service gates message handling; the
// validator authenticates both websocket handshakes and document
// requests.
func New(cfg config.ServerConfig, orch turnEngine, agents *agent.Registry, quotas quota.Service, validator auth.Validator, docs documentService) *Server {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		orch:       orch,
		agents:     agents,
		quota:      quotas,
		auth:       validator,
		docs:       docs,
		logger:     slog.Default().With("component", "server"),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		sessions:   make(map[string]int),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin admits same-origin clients (no Origin header) and the
// configured browser origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observability.HTTPMiddleware(
		observability.GetTracer("cfr_agents.server"),
		observability.GetGlobalMetrics(),
	))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ws/chat/{conversationID}", s.handleChat)

	r.Group(func(r chi.Router) {
		r.Use(auth.HTTPMiddleware(s.auth))
		r.Post("/documents", s.handleUploadDocument)
		r.Get("/documents", s.handleListDocuments)
		r.Delete("/documents/{documentID}", s.handleDeleteDocument)
	})

	return r
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.logger.Info("Backend listening", "addr", s.cfg.Addr())

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes chat sessions and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.baseCancel()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}

	index := r.FormValue("index")
	if index == "" {
		index = defaultDocumentIndex
	}

	receipt, err := s.docs.Upload(r.Context(), personal.Upload{
		Filename:    header.Filename,
		Data:        data,
		Fingerprint: claims.Fingerprint,
		Index:       index,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r)
	index := r.URL.Query().Get("index")
	if index == "" {
		index = defaultDocumentIndex
	}

	list, err := s.docs.List(r.Context(), claims.Fingerprint, index)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r)
	documentID := chi.URLParam(r, "documentID")
	index := r.URL.Query().Get("index")
	if index == "" {
		index = defaultDocumentIndex
	}

	result, err := s.docs.Delete(r.Context(), documentID, claims.Fingerprint, index)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeServiceError renders document-service rejections with their
// own status and anything else as a 500.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var perr *personal.Error
	if errors.As(err, &perr) {
		writeError(w, perr.Status, perr.Detail)
		return
	}
	s.logger.Error("Document request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// exhausted reports whether a quota position has no turns left. A
// negative limit means unmetered.
func exhausted(st quota.Status) bool {
	return st.Limit >= 0 && st.Remaining <= 0
}

func quotaExhaustedEvent(st quota.Status) orchestrator.Event {
	return orchestrator.Event{
		Type:      orchestrator.EventError,
		Content:   fmt.Sprintf("You've used your %d daily queries. Come back tomorrow!", st.Limit),
		Quota:     &st,
		Timestamp: time.Now(),
	}
}
