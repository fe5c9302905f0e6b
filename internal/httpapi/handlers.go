package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"telehealth-platform/internal/auth"
	"telehealth-platform/internal/callstate"
	"telehealth-platform/internal/queue"
	"telehealth-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
//
// Every response carries a success flag. Business rejections are 4xx with
// success:false; 5xx is reserved for infrastructure failures.

type Handlers struct {
	Auth      *auth.Manager
	Queue     *queue.Service
	Reporting *reporting.Service
	CallState *callstate.Store
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Name   string `json:"name"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" || req.Role == "" {
		fail(c, http.StatusBadRequest, "user_id and role required")
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role, req.Name)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

// --- Sessions ---

func (h Handlers) ScheduleSession(c *gin.Context) {
	doctorID, err := auth.UserID(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	var in queue.ScheduleSessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	sess, err := h.Queue.ScheduleSession(c.Request.Context(), doctorID, in)
	if err != nil {
		failFromErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "session": sess})
}

func (h Handlers) StartSession(c *gin.Context) { h.sessionTransition(c, h.Queue.StartSession) }
func (h Handlers) EndSession(c *gin.Context)   { h.sessionTransition(c, h.Queue.EndSession) }

func (h Handlers) sessionTransition(c *gin.Context, op func(ctx context.Context, doctorID, sessionID string) (queue.ClinicSession, error)) {
	doctorID, err := auth.UserID(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	sess, err := op(c.Request.Context(), doctorID, c.Param("id"))
	if err != nil {
		failFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

type cancelSessionRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) CancelSession(c *gin.Context) {
	doctorID, err := auth.UserID(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	var req cancelSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	sess, err := h.Queue.CancelSession(c.Request.Context(), doctorID, c.Param("id"), req.Reason)
	if err != nil {
		failFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

// --- Queue ---

// GetQueue returns the doctor's authoritative queue for a date.
func (h Handlers) GetQueue(c *gin.Context) {
	doctorID, err := auth.UserID(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	date := c.Query("date")
	if date == "" {
		fail(c, http.StatusBadRequest, "date query parameter required")
		return
	}
	snap, err := h.Queue.QueueForDate(c.Request.Context(), doctorID, date)
	if err != nil {
		failFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "queue": NewQueueView(snap)})
}

func (h Handlers) BookEntry(c *gin.Context) {
	var in queue.BookEntryInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	// Patients book themselves; staff may book on a patient's behalf.
	if in.PatientID == "" {
		if userID, err := auth.UserID(c.Request.Context()); err == nil {
			in.PatientID = userID
		}
	}
	e, err := h.Queue.AddEntry(c.Request.Context(), in)
	if err != nil {
		failFromErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "entry": e})
}

func (h Handlers) CallPatient(c *gin.Context) { h.entryAction(c, h.Queue.CallPatient) }
func (h Handlers) Recall(c *gin.Context)      { h.entryAction(c, h.Queue.Recall) }
func (h Handlers) Skip(c *gin.Context)        { h.entryAction(c, h.Queue.Skip) }
func (h Handlers) Complete(c *gin.Context)    { h.entryAction(c, h.Queue.Complete) }

type noShowRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) MarkNoShow(c *gin.Context) {
	doctorID, err := auth.UserID(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	var req noShowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	e, err := h.Queue.MarkNoShow(c.Request.Context(), doctorID, c.Param("id"), req.Reason)
	if err != nil {
		failFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entry": e})
}

func (h Handlers) entryAction(c *gin.Context, op func(ctx context.Context, doctorID, entryID string) (queue.QueueEntry, error)) {
	doctorID, err := auth.UserID(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	e, err := op(c.Request.Context(), doctorID, c.Param("id"))
	if err != nil {
		failFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entry": e})
}

// --- Reporting ---

func (h Handlers) SessionSummary(c *gin.Context) {
	doctorID, err := auth.UserID(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	sum, err := h.Reporting.SessionSummary(c.Request.Context(), doctorID, c.Param("id"))
	if err != nil {
		failFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "summary": sum})
}

// --- Shared helpers ---

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// failFromErr maps domain errors onto HTTP statuses. Everything the caller
// could have caused is 4xx.
func failFromErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrSessionExists), errors.Is(err, queue.ErrConflict):
		fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrInvalidArgument),
		errors.Is(err, queue.ErrInvalidWindow),
		errors.Is(err, queue.ErrReasonRequired),
		errors.Is(err, reporting.ErrInvalidRequest):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrSessionNotLive),
		errors.Is(err, queue.ErrWindowClosed),
		errors.Is(err, queue.ErrBadTransition),
		errors.Is(err, queue.ErrTerminalEntry),
		errors.Is(err, queue.ErrRecallLimit),
		errors.Is(err, queue.ErrCapacityFull):
		fail(c, http.StatusUnprocessableEntity, err.Error())
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
	}
}
