package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/legit-games/secrets-service/audit"
	"github.com/legit-games/secrets-service/authz"
	"github.com/legit-games/secrets-service/models"
)

// HandleCreateAccessRequestGin serves POST /projects/:projectId/access-requests.
// Any authenticated user may file one; review is where privilege applies.
func (s *Server) HandleCreateAccessRequestGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))

	var body struct {
		SecretID        *string `json:"secretId"`
		Reason          string  `json:"reason"`
		DurationMinutes int     `json:"durationMinutes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var secretKey string
	if body.SecretID != nil && *body.SecretID != "" {
		sec, ok := s.loadProjectSecret(c, projectID, *body.SecretID)
		if !ok {
			return
		}
		secretKey = sec.Key
	}

	req, err := s.Requests.Create(c.Request.Context(), userID, projectID, body.Reason, body.SecretID, body.DurationMinutes)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	s.emit(userID, audit.ActionJITRequested, "access_request", req.ID, projectID, map[string]interface{}{"durationMinutes": req.DurationMinutes})
	s.Notifier.RequestCreated(c.Request.Context(), req, secretKey, s.reviewerAddresses(c))
	c.JSON(http.StatusCreated, req)
}

// reviewerAddresses resolves where pending-request notices go. Deployments
// set jit.reviewer_emails as a comma-separated settings value.
func (s *Server) reviewerAddresses(c *gin.Context) []string {
	raw := s.Settings.GetValueOrDefault(c.Request.Context(), "jit.reviewer_emails", "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, addr := range strings.Split(raw, ",") {
		if a := strings.TrimSpace(addr); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// HandleListAccessRequestsGin serves GET /projects/:projectId/access-requests.
func (s *Server) HandleListAccessRequestsGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))

	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceUser, Action: authz.ActionUsersManage,
	}) {
		return
	}

	requests, err := s.Requests.ListByProject(c.Request.Context(), projectID)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	// Natural expiry is passive: report the effective status, storage keeps
	// the raw one.
	now := time.Now().UTC()
	out := make([]gin.H, 0, len(requests))
	for _, r := range requests {
		out = append(out, gin.H{
			"id":              r.ID,
			"userId":          r.UserID,
			"secretId":        r.SecretID,
			"reason":          r.Reason,
			"durationMinutes": r.DurationMinutes,
			"status":          r.EffectiveStatus(now),
			"requestedAt":     r.RequestedAt,
			"approvedAt":      r.ApprovedAt,
			"approvedBy":      r.ApprovedBy,
			"expiresAt":       r.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

func (s *Server) reviewAccessRequest(c *gin.Context, action string) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))
	requestID := strings.TrimSpace(c.Param("id"))

	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceUser, Action: authz.ActionUsersManage,
	}) {
		return
	}

	var req *models.AccessRequest
	var err error
	var auditAction string
	switch action {
	case "approve":
		req, err = s.Requests.Approve(c.Request.Context(), requestID, userID)
		auditAction = audit.ActionJITApproved
	case "reject":
		req, err = s.Requests.Reject(c.Request.Context(), requestID, userID)
		auditAction = audit.ActionJITRejected
	default:
		req, err = s.Requests.Revoke(c.Request.Context(), requestID, userID)
		auditAction = audit.ActionJITRevoked
	}
	if err != nil {
		respondStoreError(c, err)
		return
	}

	s.emit(userID, auditAction, "access_request", req.ID, projectID, nil)
	if action != "revoke" {
		requesterAddr := s.Settings.GetValueOrDefault(c.Request.Context(), "jit.requester_email."+req.UserID, "")
		s.Notifier.RequestReviewed(c.Request.Context(), req, "", requesterAddr)
	}
	c.JSON(http.StatusOK, req)
}

// HandleApproveAccessRequestGin serves POST /projects/:projectId/access-requests/:id/approve.
func (s *Server) HandleApproveAccessRequestGin(c *gin.Context) {
	s.reviewAccessRequest(c, "approve")
}

// HandleRejectAccessRequestGin serves POST /projects/:projectId/access-requests/:id/reject.
func (s *Server) HandleRejectAccessRequestGin(c *gin.Context) {
	s.reviewAccessRequest(c, "reject")
}

// HandleRevokeAccessRequestGin serves POST /projects/:projectId/access-requests/:id/revoke.
func (s *Server) HandleRevokeAccessRequestGin(c *gin.Context) {
	s.reviewAccessRequest(c, "revoke")
}
