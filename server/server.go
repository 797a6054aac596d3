package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/reddit-trend-analyzer/metrics"
	"github.com/brettboylen/reddit-trend-analyzer/models"
	"github.com/brettboylen/reddit-trend-analyzer/present"
	"github.com/brettboylen/reddit-trend-analyzer/utils"
	"github.com/brettboylen/reddit-trend-analyzer/viewstate"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// StatsProvider serves the latest statistics snapshot
type StatsProvider interface {
	GetStatistics() models.Statistics
}

// HistoryReader reads past analyses
type HistoryReader interface {
	GetRecentAnalyses(limit int) ([]models.AnalysisRecord, error)
}

// Server is the HTTP API over the analyzer sessions
type Server struct {
	echo     *echo.Echo
	config   utils.ServerConfig
	sessions *SessionStore
	stats    StatsProvider
	history  HistoryReader
	upgrader websocket.Upgrader
	now      func() time.Time
	log      *logrus.Logger

	// analyses outlive the request that submitted them and stop on shutdown
	analysisCtx    context.Context
	cancelAnalyses context.CancelFunc
}

// analyzeRequest is the body of POST /api/sessions/:id/analyze
type analyzeRequest struct {
	Keywords  string `json:"keywords"`
	Subreddit string `json:"subreddit"`
}

type filterRequest struct {
	Filter string `json:"filter"`
}

type sortRequest struct {
	Sort string `json:"sort"`
}

// sessionPage is a session's page tagged with its ID
type sessionPage struct {
	ID string `json:"id"`
	present.Page
}

// New creates the server and registers its routes
func New(config utils.ServerConfig, sessions *SessionStore, stats StatsProvider, history HistoryReader, log *logrus.Logger) *Server {
	analysisCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		echo:           echo.New(),
		config:         config,
		sessions:       sessions,
		stats:          stats,
		history:        history,
		now:            time.Now,
		log:            log,
		analysisCtx:    analysisCtx,
		cancelAnalyses: cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.echo.HideBanner = true
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		serverAddr := fmt.Sprintf(":%d", s.config.Port)
		s.log.WithField("port", s.config.Port).Info("Starting API server")
		if err := s.echo.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		s.cancelAnalyses()
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Shutting down API server")
	s.cancelAnalyses()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Logger())
	s.echo.Use(middleware.Recover())
	s.echo.Use(prometheusMiddleware())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{s.config.CORSOrigin},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	requestsPerSecond := float64(s.config.MaxRequestsPerMinute) / 60.0
	burst := s.config.MaxRequestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}

	rateLimiterConfig := middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path == "/healthz" || path == "/metrics"
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(requestsPerSecond),
				Burst:     burst,
				ExpiresIn: 3 * time.Minute,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return errorJSON(ctx, http.StatusForbidden, "Unable to identify client")
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return errorJSON(ctx, http.StatusTooManyRequests, "Rate limit exceeded, please try again later")
		},
	}
	s.echo.Use(middleware.RateLimiterWithConfig(rateLimiterConfig))
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.POST("/sessions", s.createSession)
	api.GET("/sessions/:id", s.getSession)
	api.DELETE("/sessions/:id", s.deleteSession)
	api.POST("/sessions/:id/analyze", s.analyze)
	api.PUT("/sessions/:id/filter", s.setFilter)
	api.PUT("/sessions/:id/sort", s.setSort)
	api.GET("/sessions/:id/events", s.sessionEvents)

	api.GET("/stats", func(c echo.Context) error {
		return c.JSON(http.StatusOK, s.stats.GetStatistics())
	})
	api.GET("/history", s.getHistory)

	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) createSession(c echo.Context) error {
	session := s.sessions.Create()
	return c.JSON(http.StatusCreated, s.page(session.ID, session.Controller.State()))
}

func (s *Server) getSession(c echo.Context) error {
	session, ok := s.lookup(c)
	if !ok {
		return sessionNotFound(c)
	}
	return c.JSON(http.StatusOK, s.page(session.ID, session.Controller.State()))
}

func (s *Server) deleteSession(c echo.Context) error {
	if !s.sessions.Delete(c.Param("id")) {
		return sessionNotFound(c)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) analyze(c echo.Context) error {
	session, ok := s.lookup(c)
	if !ok {
		return sessionNotFound(c)
	}

	var body analyzeRequest
	if err := c.Bind(&body); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request body")
	}

	wait := false
	if raw := c.QueryParam("wait"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "wait must be true or false")
		}
		wait = parsed
	}

	done, err := session.Controller.Submit(s.analysisCtx, body.Keywords, body.Subreddit)
	switch {
	case errors.Is(err, viewstate.ErrInFlight):
		return errorJSON(c, http.StatusConflict, "An analysis is already in progress for this session")
	case errors.Is(err, viewstate.ErrEmptyQuery):
		return c.JSON(http.StatusBadRequest, s.page(session.ID, session.Controller.State()))
	case err != nil:
		return err
	}

	s.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"keywords":   body.Keywords,
		"subreddit":  body.Subreddit,
		"wait":       wait,
	}).Info("Analysis submitted")

	if !wait {
		return c.JSON(http.StatusAccepted, s.page(session.ID, session.Controller.State()))
	}

	select {
	case <-done:
		return c.JSON(http.StatusOK, s.page(session.ID, session.Controller.State()))
	case <-c.Request().Context().Done():
		// client went away; the analysis keeps running for the session
		return nil
	}
}

func (s *Server) setFilter(c echo.Context) error {
	session, ok := s.lookup(c)
	if !ok {
		return sessionNotFound(c)
	}

	var body filterRequest
	if err := c.Bind(&body); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request body")
	}

	if err := session.Controller.SetFilter(viewstate.Filter(body.Filter)); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, s.page(session.ID, session.Controller.State()))
}

func (s *Server) setSort(c echo.Context) error {
	session, ok := s.lookup(c)
	if !ok {
		return sessionNotFound(c)
	}

	var body sortRequest
	if err := c.Bind(&body); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request body")
	}

	if err := session.Controller.SetSort(viewstate.Sort(body.Sort)); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, s.page(session.ID, session.Controller.State()))
}

func (s *Server) getHistory(c echo.Context) error {
	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return errorJSON(c, http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(parsed, maxHistoryLimit)
	}

	records, err := s.history.GetRecentAnalyses(limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to read analysis history")
		return errorJSON(c, http.StatusInternalServerError, "Failed to read analysis history")
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) lookup(c echo.Context) (*Session, bool) {
	return s.sessions.Get(c.Param("id"))
}

// page renders a state snapshot; visible posts come from the same snapshot
func (s *Server) page(id string, state viewstate.ViewState) sessionPage {
	visible := []models.Post{}
	if state.Result != nil {
		visible = viewstate.Derive(state.Result.Posts, state.Filter, state.Sort)
	}
	return sessionPage{
		ID:   id,
		Page: present.BuildPage(state, visible, s.now()),
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.config.CORSOrigin == "" || s.config.CORSOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == s.config.CORSOrigin
}

func sessionNotFound(c echo.Context) error {
	return errorJSON(c, http.StatusNotFound, fmt.Sprintf("Session %s not found", c.Param("id")))
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{
		"error": message,
	})
}

// prometheusMiddleware records request counts and latency per route
func prometheusMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				var httpErr *echo.HTTPError
				if errors.As(err, &httpErr) {
					status = httpErr.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method

			metrics.HttpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			metrics.HttpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
