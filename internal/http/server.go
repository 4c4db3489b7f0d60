// Package http provides the gantry ops API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/events"
	"github.com/Jarvis2021/gantry-sub000/internal/evidence"
	"github.com/Jarvis2021/gantry-sub000/internal/logging"
	"github.com/Jarvis2021/gantry-sub000/internal/mission"
	"github.com/Jarvis2021/gantry-sub000/internal/pipeline"
	"github.com/Jarvis2021/gantry-sub000/internal/secrets"
	"github.com/Jarvis2021/gantry-sub000/internal/skills"
	"github.com/Jarvis2021/gantry-sub000/internal/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const defaultHeartbeat = 15 * time.Second

// Dispatcher starts missions.
type Dispatcher interface {
	Dispatch(ctx context.Context, prompt string, opts pipeline.Options) (string, error)
}

// EvidenceSource locates attempt directories.
type EvidenceSource interface {
	LatestAttemptDir(missionID string) (string, error)
}

// HealthChecker reports subsystem health.
type HealthChecker interface {
	Health() telemetry.HealthStatus
}

// Services are the backends the API exposes. Pipeline and Missions are
// required; routes for the others are only mounted when they are set.
type Services struct {
	Pipeline Dispatcher
	Missions mission.Store
	Evidence EvidenceSource
	Hub      *events.Hub
	Skills   *skills.Registry
	Metrics  *telemetry.Metrics
	Health   HealthChecker
	Version  string
}

// Server provides HTTP endpoints for gantry.
type Server struct {
	echo     *echo.Echo
	svc      Services
	scrubber secrets.Scrubber
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Heartbeat is the keep-alive interval of event streams.
	Heartbeat time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(svc Services, scrubber secrets.Scrubber, logger *logging.Logger, cfg *Config) (*Server, error) {
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if svc.Pipeline == nil || svc.Missions == nil {
		return nil, fmt.Errorf("pipeline and mission store are required")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	if svc.Metrics != nil {
		e.Use(NewHTTPMetrics(svc.Metrics.Registry()).MetricsMiddleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		svc:      svc,
		scrubber: scrubber,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.svc.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.svc.Metrics.Handler()))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/scrub", s.handleScrub)

	v1.POST("/missions", s.handleCreateMission)
	v1.GET("/missions", s.handleListMissions)
	v1.GET("/missions/search", s.handleSearchMissions)
	v1.DELETE("/missions", s.handleClearMissions)
	v1.GET("/missions/:id", s.handleGetMission)
	if s.svc.Evidence != nil {
		v1.GET("/missions/:id/evidence", s.handleMissionEvidence)
	}
	if s.svc.Hub != nil {
		v1.GET("/missions/:id/events", s.handleMissionEvents)
	}

	if s.svc.Skills != nil {
		v1.GET("/skills", s.handleListSkills)
		v1.POST("/skills/:name", s.handleExecuteSkill)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.svc.Version}
	if s.svc.Health != nil {
		if h := s.svc.Health.Health(); h.Degraded {
			resp.Status = "degraded"
			resp.Reason = h.Reason
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleScrub scrubs secrets from the provided content.
func (s *Server) handleScrub(c echo.Context) error {
	ctx := c.Request().Context()
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(ctx, "invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	result := s.scrubber.Scrub(req.Content)

	s.logger.Debug(ctx, "scrubbed content",
		zap.Int("findings", result.TotalFindings),
		zap.Duration("duration", result.Duration),
	)

	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       result.Scrubbed,
		FindingsCount: result.TotalFindings,
	})
}

func (s *Server) handleCreateMission(c echo.Context) error {
	ctx := c.Request().Context()
	var req CreateMissionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(ctx, "invalid mission request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := s.svc.Pipeline.Dispatch(ctx, req.Prompt, pipeline.Options{
		Deploy:  req.Deploy,
		Publish: req.Publish,
		History: req.History,
	})
	switch {
	case errors.Is(err, mission.ErrEmptyPrompt):
		return echo.NewHTTPError(http.StatusBadRequest, "prompt field is required")
	case errors.Is(err, pipeline.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "shutting down")
	case err != nil:
		return s.internalError(ctx, "dispatch failed", err)
	}

	return c.JSON(http.StatusAccepted, CreateMissionResponse{MissionID: id, Status: mission.StatusPending})
}

func (s *Server) handleListMissions(c echo.Context) error {
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}
	missions, err := s.svc.Missions.List(c.Request().Context(), limit)
	if err != nil {
		return s.internalError(c.Request().Context(), "list missions failed", err)
	}
	return c.JSON(http.StatusOK, MissionListResponse{Missions: missions, Count: len(missions)})
}

func (s *Server) handleSearchMissions(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter is required")
	}
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}
	missions, err := s.svc.Missions.Search(c.Request().Context(), query, limit)
	if err != nil {
		return s.internalError(c.Request().Context(), "search missions failed", err)
	}
	return c.JSON(http.StatusOK, MissionListResponse{Missions: missions, Count: len(missions)})
}

func (s *Server) handleClearMissions(c echo.Context) error {
	ctx := c.Request().Context()
	n, err := s.svc.Missions.ClearAll(ctx)
	if err != nil {
		return s.internalError(ctx, "clear missions failed", err)
	}
	s.logger.Info(ctx, "mission history cleared", zap.Int("deleted", n))
	return c.JSON(http.StatusOK, ClearResponse{Deleted: n})
}

func (s *Server) handleGetMission(c echo.Context) error {
	m, err := s.getMission(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleMissionEvidence(c echo.Context) error {
	m, err := s.getMission(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	dir, err := s.svc.Evidence.LatestAttemptDir(m.ID)
	if errors.Is(err, evidence.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no evidence recorded for mission")
	}
	if err != nil {
		return s.internalError(ctx, "locate evidence failed", err)
	}

	evs, err := evidence.ReadEvents(dir)
	if err != nil {
		return s.internalError(ctx, "read evidence failed", err)
	}
	for i := range evs {
		evs[i].Details = s.scrubber.Scrub(evs[i].Details).Scrubbed
	}

	resp := EvidenceResponse{MissionID: m.ID, Attempt: filepath.Base(dir), Events: evs}
	if v, err := evidence.ReadVerdict(dir); err == nil {
		v.Output = s.scrubber.Scrub(v.Output).Scrubbed
		resp.Verdict = v
	}
	if seal, err := evidence.VerifySeal(dir); err == nil {
		resp.Sealed = true
		resp.Seal = seal
	}
	return c.JSON(http.StatusOK, resp)
}

// handleMissionEvents streams status updates as server-sent events until the
// mission reaches a terminal status or the client goes away.
func (s *Server) handleMissionEvents(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	// Subscribe before reading the current state so no transition falls
	// between the two.
	sub := s.svc.Hub.Subscribe(id)
	defer sub.Close()

	m, err := s.getMission(c)
	if err != nil {
		return err
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	ts := m.CreatedAt
	if m.UpdatedAt != nil {
		ts = *m.UpdatedAt
	}
	last := events.Event{
		Type:      events.TypeStatus,
		MissionID: m.ID,
		Status:    string(m.Status),
		Message:   m.Message,
		Timestamp: ts,
	}
	if err := writeSSE(w, last); err != nil {
		return nil
	}
	if m.Status.Terminal() {
		return nil
	}

	heartbeat := time.NewTicker(s.config.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if ev.Status == last.Status && ev.Message == last.Message {
				continue
			}
			last = ev
			if err := writeSSE(w, ev); err != nil {
				s.logger.Debug(ctx, "event stream closed", zap.Error(err))
				return nil
			}
			if mission.Status(ev.Status).Terminal() {
				return nil
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func (s *Server) handleListSkills(c echo.Context) error {
	return c.JSON(http.StatusOK, SkillListResponse{Skills: s.svc.Skills.List()})
}

func (s *Server) handleExecuteSkill(c echo.Context) error {
	ctx := c.Request().Context()
	skill, err := s.svc.Skills.Get(c.Param("name"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "skill not found")
	}

	var in skills.Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := skill.Execute(ctx, in)
	if errors.Is(err, skills.ErrInvalidInput) {
		return echo.NewHTTPError(http.StatusBadRequest, s.scrubber.Scrub(err.Error()).Scrubbed)
	}
	if err != nil {
		return s.internalError(ctx, "skill failed", err)
	}
	if res.Error != "" {
		res.Error = s.scrubber.Scrub(res.Error).Scrubbed
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) getMission(c echo.Context) (*mission.Mission, error) {
	ctx := c.Request().Context()
	m, err := s.svc.Missions.Get(ctx, c.Param("id"))
	switch {
	case errors.Is(err, mission.ErrNotFound), errors.Is(err, mission.ErrInvalidID):
		return nil, echo.NewHTTPError(http.StatusNotFound, "mission not found")
	case err != nil:
		return nil, s.internalError(ctx, "get mission failed", err)
	}
	return m, nil
}

// internalError logs err and returns a 500 with a scrubbed message.
func (s *Server) internalError(ctx context.Context, msg string, err error) error {
	s.logger.Error(ctx, msg, zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError,
		secrets.UserMessage(s.scrubber, msg+": "+err.Error(), 200))
}

func queryLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
	}
	return n, nil
}

func writeSSE(w *echo.Response, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
