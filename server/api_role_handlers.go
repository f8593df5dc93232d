package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/legit-games/secrets-service/audit"
	"github.com/legit-games/secrets-service/authz"
)

// HandleAssignRoleGin serves POST /projects/:projectId/roles. An empty
// projectId in the body scope makes the assignment workspace-global; the
// path project still scopes who may grant it.
func (s *Server) HandleAssignRoleGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))

	var body struct {
		UserID    string     `json:"userId"`
		Role      string     `json:"role"`
		Global    bool       `json:"global"`
		ExpiresAt *time.Time `json:"expiresAt"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.UserID) == "" || strings.TrimSpace(body.Role) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "userId and role are required"})
		return
	}

	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceUser, Action: authz.ActionUsersManage,
	}) {
		return
	}

	scope := projectID
	if body.Global {
		scope = ""
	}
	a, err := s.Assignments.Assign(c.Request.Context(), body.UserID, body.Role, scope, userID, body.ExpiresAt)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	s.emit(userID, audit.ActionRoleAssigned, "user", body.UserID, projectID, map[string]interface{}{"role": a.Role, "global": body.Global})
	c.JSON(http.StatusCreated, a)
}

// HandleListUserRolesGin serves GET /projects/:projectId/users/:userId/roles.
func (s *Server) HandleListUserRolesGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))
	targetID := strings.TrimSpace(c.Param("userId"))

	// Users may inspect their own assignments; others need users.manage.
	if targetID != userID {
		if !s.authorize(c, authz.Request{
			UserID: userID, ProjectID: projectID,
			Resource: authz.ResourceUser, Action: authz.ActionUsersManage,
		}) {
			return
		}
	}

	assignments, err := s.Assignments.ListForUser(c.Request.Context(), targetID)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": assignments})
}

// HandleRemoveRoleGin serves DELETE /projects/:projectId/roles/:id.
func (s *Server) HandleRemoveRoleGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))
	assignmentID := strings.TrimSpace(c.Param("id"))

	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceUser, Action: authz.ActionUsersManage,
	}) {
		return
	}

	if err := s.Assignments.Remove(c.Request.Context(), assignmentID); err != nil {
		respondStoreError(c, err)
		return
	}
	s.emit(userID, audit.ActionRoleRemoved, "role_assignment", assignmentID, projectID, nil)
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
