package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/diagd/internal/gate"
	"github.com/fyrsmithlabs/diagd/internal/orchestrator"
	"github.com/fyrsmithlabs/diagd/internal/plan"
	"github.com/fyrsmithlabs/diagd/internal/session"
)

// QueryRequest starts a diagnostic turn. SessionID is optional: when
// empty a new session is created.
type QueryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
}

// QueryResponse acknowledges an accepted turn. The workflow runs
// asynchronously; progress is read from the status endpoint and
// checkpoints answered through the decision endpoint.
type QueryResponse struct {
	SessionID  string `json:"session_id"`
	TurnNumber int    `json:"turn_number"`
}

// DecisionRequest is a human checkpoint decision.
type DecisionRequest struct {
	Choice   string `json:"choice"`
	Feedback string `json:"feedback,omitempty"`
}

// ReportResponse carries the final report of the latest turn along
// with the iteration records that produced it.
type ReportResponse struct {
	SessionID string                         `json:"session_id"`
	Report    string                         `json:"report"`
	Records   []orchestrator.IterationRecord `json:"records,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Sessions: s.sessions.Len()})
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	var (
		sess *orchestrator.Session
		err  error
	)
	if req.SessionID == "" {
		sess, err = s.sessions.Create()
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
	} else {
		sess, err = s.sessions.Get(req.SessionID)
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		if err != nil {
			return err
		}
	}

	// The turn outlives this request. It runs against the daemon
	// lifetime, not the HTTP request context.
	turn, err := sess.Start(context.Background(), req.Query)
	switch {
	case errors.Is(err, orchestrator.ErrSessionBusy):
		return echo.NewHTTPError(http.StatusConflict, "session is already processing a query")
	case errors.Is(err, orchestrator.ErrTerminated):
		return echo.NewHTTPError(http.StatusGone, "session is terminated")
	case err != nil:
		return err
	}

	return c.JSON(http.StatusAccepted, QueryResponse{
		SessionID:  sess.ID(),
		TurnNumber: turn,
	})
}

func (s *Server) handleDecision(c echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return err
	}

	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	d := plan.Decision{Choice: plan.Choice(req.Choice), Feedback: req.Feedback}
	switch err := sess.SubmitDecision(d); {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, gate.ErrNoWaiter):
		return echo.NewHTTPError(http.StatusConflict, "session is not awaiting a decision")
	case errors.Is(err, orchestrator.ErrTerminated):
		return echo.NewHTTPError(http.StatusGone, "session is terminated")
	case errors.Is(err, plan.ErrFeedbackRequired), errors.Is(err, plan.ErrUnknownChoice):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}

func (s *Server) handleStatus(c echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) handleReport(c echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return err
	}
	snap := sess.Snapshot()
	if snap.Report == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no report available yet")
	}
	return c.JSON(http.StatusOK, ReportResponse{
		SessionID: sess.ID(),
		Report:    snap.Report,
		Records:   snap.Records,
	})
}

func (s *Server) handleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"sessions": s.sessions.List()})
}

func (s *Server) handleEndSession(c echo.Context) error {
	switch err := s.sessions.End(c.Param("id")); {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	default:
		return err
	}
}
