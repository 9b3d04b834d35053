package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"newsradar/internal/broadcast"
	"newsradar/internal/db"
	"newsradar/internal/feedback"
	"newsradar/internal/metrics"
	"newsradar/internal/reader"
	payloadschema "newsradar/schema"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

var errEventNotFound = errors.New("event not found")

// Options configures the HTTP server's listen address and timeouts.
type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server exposes the read-only event listing surface and the live event
// stream described in the external interfaces contract.
type Server struct {
	pool   *db.Pool
	logger zerolog.Logger
	opts   Options
	hub    *broadcast.Hub
	fb     *feedback.Service
	echo   *echo.Echo
}

type eventListItem struct {
	EventID         string    `json:"event_id"`
	Lane            string    `json:"lane"`
	Status          string    `json:"status"`
	Headline        string    `json:"headline"`
	DocumentCount   int       `json:"document_count"`
	SourceCount     int       `json:"source_count"`
	ScorePlantao    float64   `json:"score_plantao"`
	ScoreOceanoAzul float64   `json:"score_oceano_azul"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	LastTouchedAt   time.Time `json:"last_touched_at"`
}

type eventDetailResponse struct {
	EventID       string                    `json:"event_id"`
	Lane          string                    `json:"lane"`
	Status        string                    `json:"status"`
	Headline      string                    `json:"headline"`
	FirstSeenAt   time.Time                 `json:"first_seen_at"`
	LastTouchedAt time.Time                 `json:"last_touched_at"`
	Documents     []db.EventDetailDocument `json:"documents"`
}

// NewServer builds an echo-backed HTTP server bound to pool for reads, hub
// for the live event stream, and fb for feedback submission.
func NewServer(pool *db.Pool, logger zerolog.Logger, hub *broadcast.Hub, fb *feedback.Service, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8080
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	s := &Server{
		pool:   pool,
		logger: logger,
		hub:    hub,
		fb:     fb,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: []string{"*"}}))

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", metrics.Handler())
	e.GET("/v1/sources", s.handleListSources)
	e.GET("/v1/events", s.handleListEvents)
	e.GET("/v1/events/:id", s.handleGetEvent)
	e.GET("/v1/events/stream", s.handleEventStream)
	e.POST("/v1/feedback", s.handleSubmitFeedback)

	s.echo = e
	return s
}

// Start runs the HTTP server until ctx is cancelled, then drains in-flight
// requests up to ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	s.echo.Server.ReadTimeout = s.opts.ReadTimeout
	s.echo.Server.WriteTimeout = s.opts.WriteTimeout

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-ctx.Done():
		_ = err
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.pool.DB().PingContext(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSources(c echo.Context) error {
	var sources []db.Source
	if err := s.pool.GORM().WithContext(c.Request().Context()).Order("key").Find(&sources).Error; err != nil {
		s.logger.Error().Err(err).Msg("list sources failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, sources)
}

func (s *Server) handleListEvents(c echo.Context) error {
	lane := strings.TrimSpace(c.QueryParam("lane"))
	query := strings.TrimSpace(c.QueryParam("q"))
	pageSize := defaultPageSize
	if raw := c.QueryParam("page_size"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxPageSize {
			pageSize = n
		}
	}

	var (
		rows []db.EventSummary
		err  error
	)
	if query != "" {
		rows, err = s.pool.SearchEventsByHeadline(c.Request().Context(), query, lane, pageSize)
	} else {
		to := time.Now().UTC()
		from := to.Add(-7 * 24 * time.Hour)
		rows, err = s.pool.ListEventsByTouchWindow(c.Request().Context(), db.EventListOptions{
			Lane: lane, From: from, To: to, Limit: pageSize,
		})
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("list events failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	const maxListedHeadlineChars = 160

	items := make([]eventListItem, 0, len(rows))
	for _, r := range rows {
		headline, _ := reader.TruncateText(r.Headline, maxListedHeadlineChars)
		items = append(items, eventListItem{
			EventID: r.EventID, Lane: r.Lane, Status: r.Status, Headline: headline,
			DocumentCount: r.DocumentCount, SourceCount: r.SourceCount,
			ScorePlantao: r.ScorePlantao, ScoreOceanoAzul: r.ScoreOceanoAzul,
			FirstSeenAt: r.FirstSeenAt, LastTouchedAt: r.LastTouchedAt,
		})
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) handleGetEvent(c echo.Context) error {
	detail, err := s.pool.GetEventDetail(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": errEventNotFound.Error()})
		}
		s.logger.Error().Err(err).Msg("get event failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, eventDetailResponse{
		EventID: detail.Event.EventID, Lane: detail.Event.Lane, Status: detail.Event.Status,
		Headline: detail.Event.Headline, FirstSeenAt: detail.Event.FirstSeenAt,
		LastTouchedAt: detail.Event.LastTouchedAt, Documents: detail.Documents,
	})
}

func (s *Server) handleEventStream(c echo.Context) error {
	return s.hub.ServeWS(c.Response(), c.Request())
}

func (s *Server) handleSubmitFeedback(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable request body"})
	}

	submission, err := payloadschema.ValidateFeedbackSubmission(raw)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	req := feedback.SubmitRequest{
		EventID: submission.EventID, Actor: submission.Actor, Action: submission.Action,
		Reason: submission.Reason, TargetEventID: submission.TargetEventID,
		DocumentIDs: submission.DocumentIDs, Token: submission.Token,
	}
	if err := s.fb.Submit(c.Request().Context(), req); err != nil {
		if errors.Is(err, feedback.ErrInvalidAction) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		if errors.Is(err, feedback.ErrUnauthorized) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": err.Error()})
		}
		s.logger.Error().Err(err).Msg("submit feedback failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.NoContent(http.StatusAccepted)
}
