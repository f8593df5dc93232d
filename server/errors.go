package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/legit-games/secrets-service/authz"
	"github.com/legit-games/secrets-service/store"
)

// respondStoreError maps store errors onto the wire. Conflicts carry the
// full version vectors so clients can merge and retry.
func respondStoreError(c *gin.Context, err error) {
	if vc, ok := store.AsVersionConflict(err); ok {
		c.JSON(http.StatusConflict, gin.H{
			"error":     "version_conflict",
			"conflicts": vc.Conflicts,
		})
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, store.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied", "error_description": err.Error()})
	case errors.Is(err, store.ErrInvalidState):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": "invalid_state", "error_description": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
	}
}

// respondDecision writes the non-ALLOW outcomes. A denial carries no detail
// about why; an elevation tells the client which flow unblocks it.
func respondDecision(c *gin.Context, d authz.Decision) {
	switch d {
	case authz.RequiresElevation:
		c.JSON(http.StatusForbidden, gin.H{
			"error":  "elevation_required",
			"action": "request_jit",
		})
	default:
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied"})
	}
}

// authorize runs one engine decision and writes the response on anything
// but ALLOW. Returns true when the handler may proceed.
func (s *Server) authorize(c *gin.Context, req authz.Request) bool {
	decision, err := s.Engine.Authorize(c.Request.Context(), req)
	if err != nil {
		// Evaluation failure is a 500, never a silent deny.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return false
	}
	if decision != authz.Allow {
		respondDecision(c, decision)
		return false
	}
	return true
}
