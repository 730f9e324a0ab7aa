package http

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/automation"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/notify"
)

// Prune defaults for GET /api/v1/users/:id/rules?prune=true.
const (
	defaultPruneMinSuccess  = 0.5
	defaultPruneMinTriggers = 5
)

// handleTrackEvent stores an event and applies the user's rules to it.
func (s *Server) handleTrackEvent(c echo.Context) error {
	var req EventRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid event request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	ev := &behavior.Event{
		ID:         req.ID,
		UserID:     req.UserID,
		Type:       req.Type,
		EntityID:   req.EntityID,
		EntityType: req.EntityType,
		Metadata:   req.Metadata,
		Timestamp:  req.Timestamp,
		SessionID:  req.SessionID,
	}
	res, err := s.engine.TrackEvent(c.Request().Context(), ev)
	if err != nil {
		return s.statusFor(c, "tracking event", err)
	}
	return c.JSON(http.StatusCreated, res)
}

// handleAnalyze runs pattern analysis and rule synthesis for one user.
func (s *Server) handleAnalyze(c echo.Context) error {
	report, err := s.engine.AnalyzeUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.statusFor(c, "analyzing user", err)
	}
	return c.JSON(http.StatusOK, report)
}

// handleListRules lists a user's automation rules, optionally filtered by
// ?status= and annotated with ?prune=true.
func (s *Server) handleListRules(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.Param("id")

	var status automation.RuleStatus
	if raw := c.QueryParam("status"); raw != "" {
		parsed, err := automation.ParseStatus(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		status = parsed
	}

	rules, err := s.engine.ListRules(ctx, userID, status)
	if err != nil {
		return s.statusFor(c, "listing rules", err)
	}
	resp := RulesResponse{Rules: rules}

	if prune, _ := strconv.ParseBool(c.QueryParam("prune")); prune {
		candidates, err := s.engine.PruneCandidates(ctx, userID, defaultPruneMinSuccess, defaultPruneMinTriggers)
		if err != nil {
			return s.statusFor(c, "listing prune candidates", err)
		}
		for _, r := range candidates {
			resp.PruneCandidate = append(resp.PruneCandidate, r.ID)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleRuleStatus activates or deactivates a rule.
func (s *Server) handleRuleStatus(c echo.Context) error {
	var req RuleStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rule, err := s.engine.SetRuleStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return s.statusFor(c, "updating rule status", err)
	}
	return c.JSON(http.StatusOK, rule)
}

// handleRoute suggests an assignee for a new task.
func (s *Server) handleRoute(c echo.Context) error {
	var task automation.TaskInput
	if err := c.Bind(&task); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if task.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title field is required")
	}
	res, err := s.engine.RouteTask(c.Request().Context(), c.Param("id"), task)
	if err != nil {
		return s.statusFor(c, "routing task", err)
	}
	return c.JSON(http.StatusOK, res)
}

// handleRoutingHistory learns routing rules from assignment history.
func (s *Server) handleRoutingHistory(c echo.Context) error {
	var req RoutingHistoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rules, err := s.engine.SynthesizeRouting(c.Request().Context(), c.Param("id"), req.Tasks)
	if err != nil {
		return s.statusFor(c, "synthesizing routing rules", err)
	}
	return c.JSON(http.StatusOK, RoutingRulesResponse{Rules: rules})
}

// handleNotification runs a notification through the gate.
func (s *Server) handleNotification(c echo.Context) error {
	var req NotificationRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid notification request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id field is required")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}
	if req.Priority != "" {
		if _, err := notify.ParsePriority(string(req.Priority)); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	p, err := s.engine.ProcessNotification(c.Request().Context(), notify.Context{
		UserID:   req.UserID,
		Type:     req.Type,
		Priority: req.Priority,
		Title:    req.Title,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		return s.statusFor(c, "processing notification", err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleGetPreferences(c echo.Context) error {
	prefs, err := s.engine.Preferences(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.statusFor(c, "loading preferences", err)
	}
	return c.JSON(http.StatusOK, prefs)
}

// handlePutPreferences replaces a user's preferences. The path user wins over
// any user_id in the body.
func (s *Server) handlePutPreferences(c echo.Context) error {
	var prefs notify.Preferences
	if err := c.Bind(&prefs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	prefs.UserID = c.Param("id")
	if err := prefs.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.engine.SavePreferences(c.Request().Context(), &prefs); err != nil {
		return s.statusFor(c, "saving preferences", err)
	}
	return c.JSON(http.StatusOK, prefs)
}

func (s *Server) handleNotificationRule(c echo.Context) error {
	var rule notify.Rule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rule.UserID = c.Param("id")
	if err := s.engine.SaveNotificationRule(c.Request().Context(), &rule); err != nil {
		return s.statusFor(c, "saving notification rule", err)
	}
	return c.JSON(http.StatusCreated, rule)
}
