package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/legit-games/secrets-service/authz"
	"github.com/legit-games/secrets-service/models"
	"github.com/legit-games/secrets-service/rotation"
)

// HandleRotateSecretGin serves POST /projects/:projectId/secrets/:secretId/rotate.
// strategy=regenerate swaps the live value now; strategy=shadow stages it.
func (s *Server) HandleRotateSecretGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))
	secretID := strings.TrimSpace(c.Param("secretId"))

	var body struct {
		Strategy string `json:"strategy"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	strategy := strings.ToLower(strings.TrimSpace(body.Strategy))
	if strategy == "" {
		strategy = "regenerate"
	}
	if strategy != "regenerate" && strategy != "shadow" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "strategy must be regenerate or shadow"})
		return
	}

	sec, ok := s.loadProjectSecret(c, projectID, secretID)
	if !ok {
		return
	}
	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceSecret, Action: authz.ActionSecretsRotate,
		Environment: sec.EnvironmentType, SecretID: sec.ID,
	}) {
		return
	}

	var err error
	var rotated *models.Secret
	var plaintext string
	if strategy == "shadow" {
		rotated, plaintext, err = s.Rotator.Shadow(c.Request.Context(), secretID, userID)
	} else {
		rotated, plaintext, err = s.Rotator.Regenerate(c.Request.Context(), secretID, userID)
	}
	if err != nil {
		respondStoreError(c, err)
		return
	}

	resp := gin.H{
		"id":       rotated.ID,
		"key":      rotated.Key,
		"version":  rotated.Version,
		"strategy": strategy,
		// Returned exactly once; it is not retrievable again in plaintext
		// without a value read.
		"value": plaintext,
	}
	if strategy == "shadow" {
		resp["shadowState"] = rotation.StateOf(rotated, time.Now().UTC())
		resp["shadowExpiresAt"] = rotated.ShadowExpiresAt
	}
	c.JSON(http.StatusOK, resp)
}

// HandlePromoteShadowGin serves POST /projects/:projectId/secrets/:secretId/promote.
func (s *Server) HandlePromoteShadowGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))
	secretID := strings.TrimSpace(c.Param("secretId"))

	sec, ok := s.loadProjectSecret(c, projectID, secretID)
	if !ok {
		return
	}
	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceSecret, Action: authz.ActionSecretsRotate,
		Environment: sec.EnvironmentType, SecretID: sec.ID,
	}) {
		return
	}

	promoted, err := s.Rotator.Promote(c.Request.Context(), secretID, userID)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": promoted.ID, "key": promoted.Key, "version": promoted.Version})
}

// HandleUpsertRotationScheduleGin serves PUT /projects/:projectId/secrets/:secretId/rotation-schedule.
func (s *Server) HandleUpsertRotationScheduleGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))
	secretID := strings.TrimSpace(c.Param("secretId"))

	var body struct {
		Frequency  string `json:"frequency"`
		CustomDays int    `json:"customDays"`
		Method     string `json:"method"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	frequency, ok := models.ParseRotationFrequency(body.Frequency)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "unknown rotation frequency"})
		return
	}
	method := models.RotationGenerated
	if strings.EqualFold(strings.TrimSpace(body.Method), string(models.RotationWebhook)) {
		method = models.RotationWebhook
	}

	sec, ok := s.loadProjectSecret(c, projectID, secretID)
	if !ok {
		return
	}
	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceSecret, Action: authz.ActionSecretsRotate,
		Environment: sec.EnvironmentType, SecretID: sec.ID,
	}) {
		return
	}

	next, err := rotation.NextRotation(frequency, body.CustomDays, time.Now().UTC())
	if err != nil {
		respondStoreError(c, err)
		return
	}
	sched, err := s.Schedules.Create(c.Request.Context(), secretID, frequency, body.CustomDays, method, next)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

// HandleGetRotationScheduleGin serves GET /projects/:projectId/secrets/:secretId/rotation-schedule.
func (s *Server) HandleGetRotationScheduleGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))
	secretID := strings.TrimSpace(c.Param("secretId"))

	sec, ok := s.loadProjectSecret(c, projectID, secretID)
	if !ok {
		return
	}
	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceSecret, Action: authz.ActionSecretsRead,
		Environment: sec.EnvironmentType, SecretID: sec.ID,
	}) {
		return
	}

	sched, err := s.Schedules.Get(c.Request.Context(), secretID)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

// HandleDeleteRotationScheduleGin serves DELETE /projects/:projectId/secrets/:secretId/rotation-schedule.
func (s *Server) HandleDeleteRotationScheduleGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))
	secretID := strings.TrimSpace(c.Param("secretId"))

	sec, ok := s.loadProjectSecret(c, projectID, secretID)
	if !ok {
		return
	}
	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceSecret, Action: authz.ActionSecretsRotate,
		Environment: sec.EnvironmentType, SecretID: sec.ID,
	}) {
		return
	}

	if err := s.Schedules.Delete(c.Request.Context(), secretID); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
