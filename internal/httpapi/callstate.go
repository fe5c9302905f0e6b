package httpapi

import (
	"context"
	"net/http"

	"telehealth-platform/internal/auth"
	"telehealth-platform/internal/callstate"

	"github.com/gin-gonic/gin"
)

// Call-widget state endpoints. The descriptor is read on page load so a
// reloading client can restore an in-progress call widget, including the
// role-scoped minimized flag.

func (h Handlers) GetCallState(c *gin.Context) {
	role, userID, ok := h.callStateIdentity(c)
	if !ok {
		return
	}
	d := h.CallState.Get(c.Request.Context(), role, userID)
	c.JSON(http.StatusOK, gin.H{"success": true, "call": d})
}

func (h Handlers) MinimizeCall(c *gin.Context) {
	h.callStateMutation(c, h.CallState.Minimize)
}

func (h Handlers) MaximizeCall(c *gin.Context) {
	h.callStateMutation(c, h.CallState.Maximize)
}

func (h Handlers) ToggleCallMinimize(c *gin.Context) {
	h.callStateMutation(c, h.CallState.ToggleMinimize)
}

func (h Handlers) callStateMutation(c *gin.Context, op func(ctx context.Context, role, userID string) callstate.Descriptor) {
	role, userID, ok := h.callStateIdentity(c)
	if !ok {
		return
	}
	d := op(c.Request.Context(), role, userID)
	c.JSON(http.StatusOK, gin.H{"success": true, "call": d})
}

func (h Handlers) callStateIdentity(c *gin.Context) (role, userID string, ok bool) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "not authenticated")
		return "", "", false
	}
	role, err = auth.Role(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "not authenticated")
		return "", "", false
	}
	return role, userID, true
}
