package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"lectern/internal/config"
	"lectern/internal/logging"
	"lectern/internal/pipeline"
	"lectern/internal/progress"
	"lectern/internal/resultcache"
	"lectern/internal/runs"
	"lectern/internal/services"
)

const (
	streamBuffer = 32
	writeWait    = 10 * time.Second
)

// RunService is the part of runs.Service the server drives.
type RunService interface {
	Run(ctx context.Context, req runs.Request) (*runs.Result, error)
	Registry() *pipeline.Registry
	Archives(ctx context.Context) ([]string, error)
	Summaries(ctx context.Context, archivePath string) ([]resultcache.StageSummary, error)
	Versions(ctx context.Context, archivePath string, stage pipeline.StageName) ([]resultcache.VersionInfo, error)
	Show(ctx context.Context, archivePath string, stage pipeline.StageName, version int) (runs.CacheEntry, error)
	Rollback(ctx context.Context, archivePath string, stage pipeline.StageName, version int) error
}

// Server is the lectern HTTP API.
type Server struct {
	bind     string
	svc      RunService
	logger   *slog.Logger
	handler  http.Handler
	upgrader websocket.Upgrader
	active   atomic.Int32

	listener net.Listener
	server   *http.Server
}

// NewServer builds the API server for cfg.Paths.APIBind.
func NewServer(cfg *config.Config, svc RunService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		svc:    svc,
		logger: logging.NewComponentLogger(logger, "api-server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/runs/stream", s.handleStream)
	mux.HandleFunc("/api/runs/ws", s.handleWebSocket)
	mux.HandleFunc("/api/cache", s.handleArchives)
	mux.HandleFunc("/api/cache/stages", s.handleSummaries)
	mux.HandleFunc("/api/cache/versions", s.handleVersions)
	mux.HandleFunc("/api/cache/entry", s.handleEntry)
	mux.HandleFunc("/api/cache/rollback", s.handleRollback)
	s.handler = authMiddleware(cfg.Paths.APIToken, mux)
	return s
}

// Handler exposes the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on the configured address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	// No write timeout: progress streams stay open for the whole run.
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting briefly for open requests.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var names []string
	if reg := s.svc.Registry(); reg != nil {
		for _, name := range reg.Names() {
			names = append(names, string(name))
		}
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Stages:     names,
		ActiveRuns: int(s.active.Load()),
	})
}

// startRun launches req on its own goroutine, feeding a stream bound to ctx.
// done closes once the run has returned and the stream is closed.
func (s *Server) startRun(ctx context.Context, req runs.Request) (<-chan progress.Frame, <-chan struct{}) {
	stream := progress.NewStream(ctx, streamBuffer)
	req.Sink = stream
	done := make(chan struct{})
	s.active.Add(1)
	go func() {
		defer close(done)
		defer s.active.Add(-1)
		defer stream.Close()
		if _, err := s.svc.Run(ctx, req); err != nil {
			details := services.Details(err)
			s.logger.Info("streamed run ended with error",
				logging.String(logging.FieldEventType, "stream_run_failed"),
				logging.String("source", req.SourcePath),
				logging.String(logging.FieldErrorKind, details.Kind),
				logging.Error(err),
			)
		}
	}()
	return stream.Frames(), done
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	req, err := parseRunQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	frames, done := s.startRun(ctx, req)
	defer func() {
		cancel()
		<-done
	}()

	sse := newSSEWriter(w)
	sse.init()
	for frame := range frames {
		if err := sse.writeFrame(frame); err != nil {
			s.logger.Debug("sse client gone", logging.Error(err))
			return
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	req, err := parseRunQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	// A hijacked connection no longer cancels r.Context on disconnect, so the
	// read loop is what notices the client leaving.
	ctx, cancel := context.WithCancel(r.Context())
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	frames, done := s.startRun(ctx, req)
	defer func() {
		cancel()
		<-done
	}()

	for frame := range frames {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frame); err != nil {
			s.logger.Debug("websocket client gone", logging.Error(err))
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
		time.Now().Add(writeWait))
}

func (s *Server) handleArchives(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	archives, err := s.svc.Archives(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if archives == nil {
		archives = []string{}
	}
	s.writeJSON(w, http.StatusOK, ArchiveListResponse{Archives: archives})
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	archive := r.URL.Query().Get("archive")
	summaries, err := s.svc.Summaries(r.Context(), archive)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	out := make([]StageSummary, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, fromStageSummary(summary))
	}
	s.writeJSON(w, http.StatusOK, StageSummaryResponse{ArchivePath: archive, Stages: out})
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	query := r.URL.Query()
	stage, err := pipeline.ParseStageName(query.Get("stage"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	versions, err := s.svc.Versions(r.Context(), query.Get("archive"), stage)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	out := make([]VersionInfo, 0, len(versions))
	for _, v := range versions {
		out = append(out, fromVersionInfo(v))
	}
	s.writeJSON(w, http.StatusOK, VersionListResponse{ArchivePath: query.Get("archive"), Stage: string(stage), Versions: out})
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	query := r.URL.Query()
	stage, err := pipeline.ParseStageName(query.Get("stage"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	version := 0
	if raw := strings.TrimSpace(query.Get("version")); raw != "" {
		if version, err = strconv.Atoi(raw); err != nil || version < 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("invalid version"))
			return
		}
	}
	entry, err := s.svc.Show(r.Context(), query.Get("archive"), stage, version)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, CacheEntryResponse{
		ArchivePath: entry.ArchivePath,
		Stage:       string(entry.Stage),
		Version:     entry.Version,
		ModelName:   entry.ModelName,
		CreatedAt:   entry.CreatedAt,
		Payload:     entry.Payload,
	})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var body RollbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	stage, err := pipeline.ParseStageName(body.Stage)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.Rollback(r.Context(), body.ArchivePath, stage, body.Version); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	versions, err := s.svc.Versions(r.Context(), body.ArchivePath, stage)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	out := make([]VersionInfo, 0, len(versions))
	for _, v := range versions {
		out = append(out, fromVersionInfo(v))
	}
	s.writeJSON(w, http.StatusOK, VersionListResponse{ArchivePath: body.ArchivePath, Stage: string(stage), Versions: out})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	details := services.Details(err)
	resp := ErrorResponse{Error: err.Error()}
	if status != http.StatusMethodNotAllowed {
		resp.Kind = details.Kind
		resp.Hint = details.Hint
	}
	s.writeJSON(w, status, resp)
}
