package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/legit-games/secrets-service/audit"
	"github.com/legit-games/secrets-service/authz"
)

// HandleListBranchesGin serves GET /projects/:projectId/branches.
func (s *Server) HandleListBranchesGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))

	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceBranch, Action: authz.ActionSecretsRead,
	}) {
		return
	}

	branches, err := s.Branches.List(c.Request.Context(), projectID)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"branches": branches})
}

// HandleCreateBranchGin serves POST /projects/:projectId/branches.
func (s *Server) HandleCreateBranchGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))

	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "branch name is required"})
		return
	}

	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceBranch, Action: authz.ActionBranchesManage,
	}) {
		return
	}

	b, err := s.Branches.Create(c.Request.Context(), projectID, body.Name)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	s.emit(userID, audit.ActionBranchCreated, "branch", b.ID, projectID, map[string]interface{}{"name": b.Name})
	c.JSON(http.StatusCreated, b)
}

// HandleDeleteBranchGin serves DELETE /projects/:projectId/branches/:name.
func (s *Server) HandleDeleteBranchGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))
	name := strings.TrimSpace(c.Param("name"))

	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceBranch, Action: authz.ActionBranchesManage,
	}) {
		return
	}

	if err := s.Branches.Delete(c.Request.Context(), projectID, name); err != nil {
		respondStoreError(c, err)
		return
	}
	s.emit(userID, audit.ActionBranchDeleted, "branch", name, projectID, nil)
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
