// Package api exposes the HTTP control surface: a health probe, a trigger
// endpoint that starts a scoring run in the background, and read-only run
// status backed by the tracking store. One run at a time; concurrent
// triggers are rejected.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumolead/postscore/pkg/batch"
	"github.com/lumolead/postscore/pkg/tracking"
)

// Runner executes one scoring run. Satisfied by batch.Orchestrator.
type Runner interface {
	Run(ctx context.Context, baseRunID string, opts batch.Options) (batch.RunResult, error)
}

// RunStore serves run status reads. Satisfied by tracking.Store. A nil
// store degrades the status endpoints to 503 instead of failing startup.
type RunStore interface {
	Ping(ctx context.Context) error
	GetRun(ctx context.Context, runID string) (tracking.RunRecord, error)
	ListClientRuns(ctx context.Context, runID string) ([]tracking.ClientRunRecord, error)
}

// Server is the HTTP API server.
type Server struct {
	runner Runner
	runs   RunStore
	log    *slog.Logger

	baseOpts batch.Options

	mu          sync.Mutex
	activeRunID string
	lastResult  *batch.RunResult
}

// SetBaseOptions sets the option defaults triggered runs start from. Request
// fields overlay these.
func (s *Server) SetBaseOptions(opts batch.Options) {
	s.baseOpts = opts
}

// NewServer wires the API server. runs may be nil when the tracking
// database is disabled.
func NewServer(runner Runner, runs RunStore, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{runner: runner, runs: runs, log: log}
}

// Routes builds the gin engine with all endpoints registered.
func (s *Server) Routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestID())

	router.GET("/healthz", s.healthHandler)

	v1 := router.Group("/api/v1")
	v1.POST("/runs", s.triggerRunHandler)
	v1.GET("/runs/:id", s.getRunHandler)

	return router
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// tryAcquireRun marks a run active. Returns the blocking run ID when one is
// already in flight.
func (s *Server) tryAcquireRun(runID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRunID != "" {
		return s.activeRunID, false
	}
	s.activeRunID = runID
	return "", true
}

func (s *Server) releaseRun(result *batch.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeRunID = ""
	s.lastResult = result
}

func (s *Server) activeRun() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRunID
}
