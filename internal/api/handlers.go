package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/evergreenpress/republisher/internal/domain"
	"github.com/evergreenpress/republisher/internal/logger"
)

// republishEndpointKey is the rate-limiter key for the external trigger.
const republishEndpointKey = "republish"

const defaultStatsWindowDays = 30

// triggerRequest is the body of POST /api/v1/republish.
type triggerRequest struct {
	Force bool `json:"force"`
}

// triggerBatch handles POST /api/v1/republish. The call is gated by the
// sliding-window rate limiter; admitted calls are recorded only after being
// dispatched to the engine, so a rejected call never consumes the window.
func (r *Router) triggerBatch(c *gin.Context) {
	var req triggerRequest
	// An empty body means no force; anything else must parse.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	if !r.limiter.ShouldBypass() {
		allowed, err := r.limiter.Allow(c.Request.Context(), republishEndpointKey)
		if err != nil {
			r.logger.Error("rate limiter check failed", logger.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rate limiter unavailable"})
			return
		}
		if !allowed {
			r.rejectRateLimited(c)
			return
		}
	}

	result, err := r.engine.ExecuteBatch(c.Request.Context(), domain.TriggerExternal, req.Force)

	// The call reached the engine, so it counts toward the window even
	// when the batch itself was denied the lock.
	if !r.limiter.ShouldBypass() {
		if recordErr := r.limiter.RecordCall(c.Request.Context(), republishEndpointKey); recordErr != nil {
			r.logger.Error("failed to record trigger call", logger.Error(recordErr))
		}
	}

	if errors.Is(err, domain.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": "batch already running"})
		return
	}
	if err != nil {
		r.logger.Error("externally triggered batch failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "batch execution failed"})
		return
	}

	// Debug mode exposes the full result; otherwise a terse acknowledgment.
	if r.cfg.Debug {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     result.Success,
		"republished": len(result.Republished),
		"failed":      len(result.Failed),
	})
}

func (r *Router) rejectRateLimited(c *gin.Context) {
	status, err := r.limiter.CallStatus(c.Request.Context(), republishEndpointKey)
	if err != nil {
		r.logger.Error("rate limiter status failed", logger.Error(err))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	retryAfterSec := int(status.RetryAfter / time.Second)
	c.Header("Retry-After", strconv.Itoa(retryAfterSec))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":       "rate limit exceeded",
		"retry_after": retryAfterSec,
		"limit":       status.MaxRequests,
		"window":      status.WindowSeconds,
	})
}

// previewBatch handles GET /api/v1/republish/preview: the dry-run selection
// and assignment with zero writes.
func (r *Router) previewBatch(c *gin.Context) {
	result, err := r.engine.Preview(c.Request.Context())
	if err != nil {
		r.logger.Error("preview failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "preview failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// listHistory handles GET /api/v1/history
func (r *Router) listHistory(c *gin.Context) {
	var filter domain.HistoryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}

	records, err := r.history.List(c.Request.Context(), &filter)
	if err != nil {
		r.logger.Error("failed to list history", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

// historyStats handles GET /api/v1/history/stats
func (r *Router) historyStats(c *gin.Context) {
	days := defaultStatsWindowDays
	if daysStr := c.Query("days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err == nil && parsed > 0 {
			days = parsed
		}
	}

	since := time.Now().AddDate(0, 0, -days)
	stats, err := r.history.StatsByOutcome(c.Request.Context(), since)
	if err != nil {
		r.logger.Error("failed to get history stats", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"since": since,
		"stats": stats,
	})
}

// limitStatus handles GET /api/v1/limits
func (r *Router) limitStatus(c *gin.Context) {
	status, err := r.limiter.CallStatus(c.Request.Context(), republishEndpointKey)
	if err != nil {
		r.logger.Error("rate limiter status failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve limiter status"})
		return
	}
	c.JSON(http.StatusOK, status)
}
