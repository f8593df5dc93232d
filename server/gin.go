package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewGinEngine builds a Gin router and registers all routes under
// /secrets/v1. Every route behind the token middleware resolves the caller
// before any store is touched.
func NewGinEngine(s *Server) *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/secrets/v1")
	api.Use(s.TokenMiddleware())

	// Secret values, per environment and branch (?branch=, default main).
	api.GET("/projects/:projectId/environments/:env/secrets", s.HandleListSecretsGin)
	api.GET("/projects/:projectId/environments/:env/secrets/:key", s.HandleGetSecretGin)
	api.PUT("/projects/:projectId/environments/:env/secrets", s.HandleBatchUpsertSecretsGin)
	api.DELETE("/projects/:projectId/environments/:env/secrets/:key", s.HandleDeleteSecretGin)
	api.POST("/projects/:projectId/environments/clone", s.HandleCloneEnvironmentGin)

	// Version history and rollback.
	api.GET("/projects/:projectId/secrets/:secretId/history", s.HandleGetSecretHistoryGin)
	api.POST("/projects/:projectId/secrets/:secretId/rollback", s.HandleRollbackSecretGin)

	// Branches.
	api.GET("/projects/:projectId/branches", s.HandleListBranchesGin)
	api.POST("/projects/:projectId/branches", s.HandleCreateBranchGin)
	api.DELETE("/projects/:projectId/branches/:name", s.HandleDeleteBranchGin)

	// Just-in-time access workflow.
	api.POST("/projects/:projectId/access-requests", s.HandleCreateAccessRequestGin)
	api.GET("/projects/:projectId/access-requests", s.HandleListAccessRequestsGin)
	api.POST("/projects/:projectId/access-requests/:id/approve", s.HandleApproveAccessRequestGin)
	api.POST("/projects/:projectId/access-requests/:id/reject", s.HandleRejectAccessRequestGin)
	api.POST("/projects/:projectId/access-requests/:id/revoke", s.HandleRevokeAccessRequestGin)

	// Rotation.
	api.POST("/projects/:projectId/secrets/:secretId/rotate", s.HandleRotateSecretGin)
	api.POST("/projects/:projectId/secrets/:secretId/promote", s.HandlePromoteShadowGin)
	api.PUT("/projects/:projectId/secrets/:secretId/rotation-schedule", s.HandleUpsertRotationScheduleGin)
	api.GET("/projects/:projectId/secrets/:secretId/rotation-schedule", s.HandleGetRotationScheduleGin)
	api.DELETE("/projects/:projectId/secrets/:secretId/rotation-schedule", s.HandleDeleteRotationScheduleGin)

	// Role assignment admin.
	api.POST("/projects/:projectId/roles", s.HandleAssignRoleGin)
	api.DELETE("/projects/:projectId/roles/:id", s.HandleRemoveRoleGin)
	api.GET("/projects/:projectId/users/:userId/roles", s.HandleListUserRolesGin)

	return r
}
