package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/legit-games/secrets-service/audit"
	"github.com/legit-games/secrets-service/authz"
	"github.com/legit-games/secrets-service/models"
	"github.com/legit-games/secrets-service/store"
)

type secretResponse struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	Value       string     `json:"value"`
	Version     string     `json:"version"`
	Description string     `json:"description,omitempty"`
	Branch      string     `json:"branch"`
	Environment string     `json:"environment"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	UpdatedBy   string     `json:"updatedBy,omitempty"`
	ShadowState string     `json:"shadowState,omitempty"`
	ShadowUntil *time.Time `json:"shadowExpiresAt,omitempty"`
}

// renderSecret shapes one secret for the wire. Plaintext only reaches the
// payload when the caller's role allows it; everyone else gets the mask
// token. An undecryptable row is reported per secret, it never aborts a
// listing.
func (s *Server) renderSecret(sec *models.Secret, branch string, plaintextOK bool) secretResponse {
	value := authz.MaskToken
	if plaintextOK {
		if v, err := s.Cipher.DecodeValue(sec.Value); err == nil {
			value = v
		} else {
			value = "[Decryption failed]"
		}
	}
	return secretResponse{
		ID:          sec.ID,
		Key:         sec.Key,
		Value:       value,
		Version:     sec.Version,
		Description: sec.Description,
		Branch:      branch,
		Environment: sec.EnvironmentType,
		UpdatedAt:   sec.UpdatedAt,
		UpdatedBy:   sec.UpdatedBy,
	}
}

// valueReadDecision evaluates the caller's right to see values in the
// clear for one environment. Masking is shaping, not denial: list and
// history callers treat anything but ALLOW as "mask", while an explicit
// value read surfaces REQUIRES_ELEVATION to the client.
func (s *Server) valueReadDecision(c *gin.Context, userID, projectID, envName, secretID string) (authz.Decision, error) {
	return s.Engine.Authorize(c.Request.Context(), authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceSecret, Action: authz.ActionSecretValueRead,
		Environment: envName, SecretID: secretID,
	})
}

// loadProjectSecret fetches a secret by id and pins it to the project in
// the URL. The engine evaluates roles on the URL project, so a secret that
// lives elsewhere must never reach it; such an id reads as absent.
func (s *Server) loadProjectSecret(c *gin.Context, projectID, secretID string) (*models.Secret, bool) {
	sec, err := s.Secrets.GetByID(c.Request.Context(), secretID)
	if err != nil {
		respondStoreError(c, err)
		return nil, false
	}
	if sec.ProjectID != projectID {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return nil, false
	}
	return sec, true
}

func branchParam(c *gin.Context) string {
	b := strings.TrimSpace(c.Query("branch"))
	if b == "" {
		return models.MainBranchName
	}
	return b
}

// HandleListSecretsGin serves GET /projects/:projectId/environments/:env/secrets.
func (s *Server) HandleListSecretsGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))
	envName := models.NormalizeEnvironment(c.Param("env"))
	branch := branchParam(c)

	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceSecret, Action: authz.ActionSecretsRead,
		Environment: envName,
	}) {
		return
	}

	secrets, err := s.Secrets.List(c.Request.Context(), projectID, envName, branch)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	decision, err := s.valueReadDecision(c, userID, projectID, envName, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	plaintextOK := decision == authz.Allow

	out := make([]secretResponse, 0, len(secrets))
	for i := range secrets {
		out = append(out, s.renderSecret(&secrets[i], branch, plaintextOK))
	}
	s.emit(userID, audit.ActionSecretRead, "environment", envName, projectID, map[string]interface{}{"branch": branch, "count": len(out)})
	c.JSON(http.StatusOK, gin.H{"secrets": out})
}

// HandleGetSecretGin serves GET /projects/:projectId/environments/:env/secrets/:key.
// Masked callers still get the row; the value is shaped, not the access.
func (s *Server) HandleGetSecretGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))
	envName := models.NormalizeEnvironment(c.Param("env"))
	branch := branchParam(c)
	key := strings.TrimSpace(c.Param("key"))

	// Authorization runs before the lookup so callers outside the project
	// cannot infer key existence from 404s.
	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceSecret, Action: authz.ActionSecretsRead,
		Environment: envName,
	}) {
		return
	}

	sec, err := s.Secrets.Get(c.Request.Context(), projectID, envName, branch, key)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	decision, err := s.valueReadDecision(c, userID, projectID, envName, sec.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	if decision == authz.RequiresElevation {
		respondDecision(c, decision)
		return
	}
	plaintextOK := decision == authz.Allow
	s.emit(userID, audit.ActionSecretRead, "secret", sec.ID, projectID, map[string]interface{}{"key": key, "masked": !plaintextOK})
	c.JSON(http.StatusOK, s.renderSecret(sec, branch, plaintextOK))
}

// HandleBatchUpsertSecretsGin serves PUT /projects/:projectId/environments/:env/secrets.
func (s *Server) HandleBatchUpsertSecretsGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))
	envName := models.NormalizeEnvironment(c.Param("env"))
	branch := branchParam(c)

	var body struct {
		Secrets []struct {
			Key             string  `json:"key"`
			Value           string  `json:"value"`
			Description     string  `json:"description"`
			ExpectedVersion *string `json:"expectedVersion"`
		} `json:"secrets"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || len(body.Secrets) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceSecret, Action: authz.ActionSecretsWrite,
		Environment: envName,
	}) {
		return
	}

	writes := make([]store.SecretWrite, 0, len(body.Secrets))
	keys := make([]string, 0, len(body.Secrets))
	for _, in := range body.Secrets {
		if strings.TrimSpace(in.Key) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "secret key is required"})
			return
		}
		enc, err := s.Cipher.EncryptToString(in.Value)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
			return
		}
		writes = append(writes, store.SecretWrite{
			Key:             strings.TrimSpace(in.Key),
			Value:           enc,
			Description:     in.Description,
			ExpectedVersion: in.ExpectedVersion,
		})
		keys = append(keys, strings.TrimSpace(in.Key))
	}

	out, err := s.Secrets.BatchUpsert(c.Request.Context(), projectID, envName, branch, userID, writes)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	resp := make([]gin.H, 0, len(out))
	for _, sec := range out {
		resp = append(resp, gin.H{"id": sec.ID, "key": sec.Key, "version": sec.Version})
	}
	s.emit(userID, audit.ActionSecretWrite, "environment", envName, projectID, map[string]interface{}{"branch": branch, "keys": keys})
	c.JSON(http.StatusOK, gin.H{"secrets": resp})
}

// HandleDeleteSecretGin serves DELETE /projects/:projectId/environments/:env/secrets/:key.
func (s *Server) HandleDeleteSecretGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))
	envName := models.NormalizeEnvironment(c.Param("env"))
	branch := branchParam(c)
	key := strings.TrimSpace(c.Param("key"))

	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceSecret, Action: authz.ActionSecretsDelete,
		Environment: envName,
	}) {
		return
	}

	if err := s.Secrets.Delete(c.Request.Context(), projectID, envName, branch, key); err != nil {
		respondStoreError(c, err)
		return
	}
	s.emit(userID, audit.ActionSecretDelete, "secret", key, projectID, map[string]interface{}{"branch": branch, "environment": envName})
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// HandleGetSecretHistoryGin serves GET /projects/:projectId/secrets/:secretId/history.
func (s *Server) HandleGetSecretHistoryGin(c *gin.Context) {
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

	history, err := s.Secrets.History(c.Request.Context(), secretID)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	decision, err := s.valueReadDecision(c, userID, projectID, sec.EnvironmentType, sec.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	plaintextOK := decision == authz.Allow
	out := make([]gin.H, 0, len(history))
	for _, h := range history {
		value := authz.MaskToken
		if plaintextOK {
			if v, err := s.Cipher.DecodeValue(h.Value); err == nil {
				value = v
			} else {
				value = "[Decryption failed]"
			}
		}
		out = append(out, gin.H{
			"version":     h.Version,
			"value":       value,
			"updatedAt":   h.UpdatedAt,
			"updatedBy":   h.UpdatedBy,
			"description": h.Description,
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": out})
}

// HandleRollbackSecretGin serves POST /projects/:projectId/secrets/:secretId/rollback.
func (s *Server) HandleRollbackSecretGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))
	secretID := strings.TrimSpace(c.Param("secretId"))

	var body struct {
		Version string `json:"version"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Version) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "target version is required"})
		return
	}

	sec, ok := s.loadProjectSecret(c, projectID, secretID)
	if !ok {
		return
	}
	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceSecret, Action: authz.ActionSecretsWrite,
		Environment: sec.EnvironmentType, SecretID: sec.ID,
	}) {
		return
	}

	rolled, err := s.Secrets.Rollback(c.Request.Context(), secretID, strings.TrimSpace(body.Version), userID)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	s.emit(userID, audit.ActionSecretRollback, "secret", secretID, projectID, map[string]interface{}{
		"targetVersion": body.Version,
		"newVersion":    rolled.Version,
	})
	c.JSON(http.StatusOK, gin.H{"id": rolled.ID, "key": rolled.Key, "version": rolled.Version})
}

// HandleCloneEnvironmentGin serves POST /projects/:projectId/environments/clone.
func (s *Server) HandleCloneEnvironmentGin(c *gin.Context) {
	userID := GetUserIDFromContext(c)
	projectID := strings.TrimSpace(c.Param("projectId"))

	var body struct {
		From      string `json:"from"`
		To        string `json:"to"`
		Branch    string `json:"branch"`
		Overwrite bool   `json:"overwrite"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.From) == "" || strings.TrimSpace(body.To) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "from and to environments are required"})
		return
	}
	branch := strings.TrimSpace(body.Branch)
	if branch == "" {
		branch = models.MainBranchName
	}

	// Cloning writes into the destination environment.
	if !s.authorize(c, authz.Request{
		UserID: userID, ProjectID: projectID,
		Resource: authz.ResourceSecret, Action: authz.ActionSecretsWrite,
		Environment: models.NormalizeEnvironment(body.To),
	}) {
		return
	}

	report, err := s.Secrets.Clone(c.Request.Context(), projectID, branch, body.From, body.To, userID, body.Overwrite)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	s.emit(userID, audit.ActionSecretClone, "environment", models.NormalizeEnvironment(body.To), projectID, map[string]interface{}{
		"from": models.NormalizeEnvironment(body.From), "branch": branch,
		"copied": report.Copied, "updated": report.Updated, "skipped": report.Skipped,
	})
	c.JSON(http.StatusOK, report)
}
