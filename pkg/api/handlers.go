package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumolead/postscore/pkg/runid"
	"github.com/lumolead/postscore/pkg/tracking"
	"github.com/lumolead/postscore/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /healthz. Safe for unauthenticated probes; only
// the tracking database is checked, external services are excluded so a
// flapping upstream does not get the process restarted.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	checks := make(map[string]HealthCheck)

	if s.runs != nil {
		if err := s.runs.Ping(ctx); err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusDegraded, Message: "tracking database disabled"}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   version.GitCommit,
		ActiveRun: s.activeRun(),
		Checks:    checks,
	})
}

// triggerRunHandler handles POST /api/v1/runs. Starts the run in the
// background and answers 202 with the minted run ID, or 409 when a run is
// already in flight.
func (s *Server) triggerRunHandler(c *gin.Context) {
	var req TriggerRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
	}

	runID := runid.Generate()
	if blocking, ok := s.tryAcquireRun(runID); !ok {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "a scoring run is already in progress",
			RunID: blocking,
		})
		return
	}

	opts := s.baseOpts
	opts.ClientFilter = req.ClientFilter
	opts.Limit = req.Limit
	opts.ForceRescore = req.ForceRescore
	opts.TargetIDs = req.TargetIDs
	opts.DryRun = req.DryRun
	if req.VerboseErrors {
		opts.VerboseErrors = true
	}

	s.log.Info("Run triggered over HTTP",
		"run_id", runID,
		"request_id", c.GetString("request_id"),
		"client_filter", req.ClientFilter,
		"dry_run", req.DryRun)

	// The run outlives the HTTP request.
	go func() {
		result, err := s.runner.Run(context.Background(), runID, opts)
		if err != nil {
			s.log.Error("Triggered run failed", "run_id", runID, "error", err)
		}
		s.releaseRun(&result)
	}()

	c.JSON(http.StatusAccepted, TriggerRunResponse{
		RunID:  runID,
		Status: "accepted",
		DryRun: req.DryRun,
	})
}

// getRunHandler handles GET /api/v1/runs/:id.
func (s *Server) getRunHandler(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "tracking database disabled"})
		return
	}
	runID := c.Param("id")

	run, err := s.runs.GetRun(c.Request.Context(), runID)
	if errors.Is(err, tracking.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found", RunID: runID})
		return
	}
	if err != nil {
		s.log.Error("Run lookup failed", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "run lookup failed"})
		return
	}

	clients, err := s.runs.ListClientRuns(c.Request.Context(), runID)
	if err != nil {
		s.log.Error("Client run lookup failed", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "run lookup failed"})
		return
	}

	c.JSON(http.StatusOK, RunStatusResponse{
		Run:     run,
		Clients: clients,
		Active:  s.activeRun() == runID,
	})
}
