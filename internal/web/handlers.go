package web

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/scene-sentry/internal/health"
	"github.com/vzahanych/scene-sentry/internal/state"
	"github.com/vzahanych/scene-sentry/internal/storage"
)

const maxAlertPage = 500

// handleHealth returns the health report; 503 when unhealthy
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": health.StatusHealthy, "service": "web-server"})
		return
	}

	report := s.deps.Health.Check(c.Request.Context())
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// handleStatus returns pipeline counters and service states
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)
	resp := gin.H{
		"version":        s.version,
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"timestamp":      time.Now().Format(time.RFC3339),
		"ws_clients":     s.hub.ClientCount(),
	}
	if s.deps.Pipeline != nil {
		resp["pipeline"] = s.deps.Pipeline.Stats()
	}
	if s.deps.Services != nil {
		resp["services"] = s.deps.Services.Statuses()
	}
	if s.deps.State != nil {
		if st, err := s.deps.State.SystemState(c.Request.Context()); err != nil {
			s.LogWarn("Failed to read system state", "error", err)
		} else {
			resp["system_state"] = st
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleListAlerts lists alerts newest first. Query: run_id, reason,
// label, since, until (RFC3339), limit, offset.
func (s *Server) handleListAlerts(c *gin.Context) {
	if s.deps.Alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Alert ledger not available"})
		return
	}

	opts := state.ListAlertsOptions{
		RunID:  c.Query("run_id"),
		Reason: c.Query("reason"),
		Label:  c.Query("label"),
		Limit:  50,
	}

	var err error
	if opts.Since, err = parseTime(c.Query("since")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since: " + err.Error()})
		return
	}
	if opts.Before, err = parseTime(c.Query("until")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid until: " + err.Error()})
		return
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if limit > maxAlertPage {
			limit = maxAlertPage
		}
		opts.Limit = limit
	}
	if v := c.Query("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		opts.Offset = offset
	}

	alerts, total, err := s.deps.Alerts.ListAlerts(c.Request.Context(), opts)
	if err != nil {
		s.LogError("Failed to list alerts", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list alerts"})
		return
	}
	if alerts == nil {
		alerts = []state.AlertRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  total,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *Server) handleGetAlert(c *gin.Context) {
	rec, ok := s.lookupAlert(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleAlertImage serves the saved JPEG of an alert
func (s *Server) handleAlertImage(c *gin.Context) {
	rec, ok := s.lookupAlert(c)
	if !ok {
		return
	}
	if rec.SavedPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert has no saved image", "persist_error": rec.PersistError})
		return
	}
	if s.deps.Results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Results storage not available"})
		return
	}

	path, err := s.deps.Results.ResolveResult(rec.SavedPath)
	if err != nil {
		if errors.Is(err, storage.ErrOutsideResults) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Image is outside the results directory"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve image"})
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Image file not found"})
		return
	}

	c.Header("Content-Type", "image/jpeg")
	c.File(path)
}

func (s *Server) lookupAlert(c *gin.Context) (*state.AlertRecord, bool) {
	if s.deps.Alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Alert ledger not available"})
		return nil, false
	}
	id := c.Param("id")
	rec, err := s.deps.Alerts.GetAlert(c.Request.Context(), id)
	if err != nil {
		s.LogError("Failed to get alert", err, "id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get alert"})
		return nil, false
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return nil, false
	}
	return rec, true
}
