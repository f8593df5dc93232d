package server

import (
	"net/http"
	"testing"

	"github.com/gavv/httpexpect/v2"
)

func seedRotationSecret(t *testing.T, e *httpexpect.Expect, project, auth string) string {
	t.Helper()
	e.PUT("/secrets/v1/projects/"+project+"/environments/staging/secrets").
		WithHeader("Authorization", auth).
		WithJSON(map[string]interface{}{
			"secrets": []map[string]interface{}{{"key": "ROTATE_ME", "value": "original"}},
		}).
		Expect().Status(http.StatusOK)

	return e.GET("/secrets/v1/projects/"+project+"/environments/staging/secrets/ROTATE_ME").
		WithHeader("Authorization", auth).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("id").String().Raw()
}

func TestAPIRotation_RegenerateReturnsValueOnce(t *testing.T) {
	s, ts := startTestServer(t)
	project := uniqueTestID("proj-api-rotate")
	cleanupProject(t, s, project)

	owner := uniqueTestID("owner")
	grantRole(t, s, owner, "owner", project)

	e := httpexpect.Default(t, ts.URL)
	auth := "Bearer " + makeToken(t, owner)
	secretID := seedRotationSecret(t, e, project, auth)

	obj := e.POST("/secrets/v1/projects/"+project+"/secrets/"+secretID+"/rotate").
		WithHeader("Authorization", auth).
		WithJSON(map[string]interface{}{"strategy": "regenerate"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	obj.ValueEqual("version", "2")
	obj.ValueEqual("strategy", "regenerate")

	newValue := obj.Value("value").String().Raw()
	if newValue == "" || newValue == "original" {
		t.Fatalf("expected a freshly generated value, got %q", newValue)
	}

	// The stored value is the generated one.
	e.GET("/secrets/v1/projects/"+project+"/environments/staging/secrets/ROTATE_ME").
		WithHeader("Authorization", auth).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		ValueEqual("value", newValue).
		ValueEqual("version", "2")
}

func TestAPIRotation_ShadowThenPromote(t *testing.T) {
	s, ts := startTestServer(t)
	project := uniqueTestID("proj-api-shadow")
	cleanupProject(t, s, project)

	owner := uniqueTestID("owner")
	grantRole(t, s, owner, "owner", project)

	e := httpexpect.Default(t, ts.URL)
	auth := "Bearer " + makeToken(t, owner)
	secretID := seedRotationSecret(t, e, project, auth)

	e.POST("/secrets/v1/projects/"+project+"/secrets/"+secretID+"/rotate").
		WithHeader("Authorization", auth).
		WithJSON(map[string]interface{}{"strategy": "shadow"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		ValueEqual("version", "1").
		ValueEqual("shadowState", "active")

	// Staging a shadow does not touch the live value.
	e.GET("/secrets/v1/projects/"+project+"/environments/staging/secrets/ROTATE_ME").
		WithHeader("Authorization", auth).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		ValueEqual("value", "original").
		ValueEqual("version", "1")

	e.POST("/secrets/v1/projects/"+project+"/secrets/"+secretID+"/promote").
		WithHeader("Authorization", auth).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		ValueEqual("version", "2")

	t.Run("PromoteWithoutShadow", func(t *testing.T) {
		e.POST("/secrets/v1/projects/"+project+"/secrets/"+secretID+"/promote").
			WithHeader("Authorization", auth).
			Expect().
			Status(http.StatusPreconditionFailed).
			JSON().Object().
			ValueEqual("error", "invalid_state")
	})
}

func TestAPIRotation_ScheduleLifecycle(t *testing.T) {
	s, ts := startTestServer(t)
	project := uniqueTestID("proj-api-sched")
	cleanupProject(t, s, project)

	owner := uniqueTestID("owner")
	grantRole(t, s, owner, "owner", project)

	e := httpexpect.Default(t, ts.URL)
	auth := "Bearer " + makeToken(t, owner)
	secretID := seedRotationSecret(t, e, project, auth)

	scheduleURL := "/secrets/v1/projects/" + project + "/secrets/" + secretID + "/rotation-schedule"

	e.GET(scheduleURL).
		WithHeader("Authorization", auth).
		Expect().
		Status(http.StatusNotFound)

	e.PUT(scheduleURL).
		WithHeader("Authorization", auth).
		WithJSON(map[string]interface{}{"frequency": "weekly", "method": "generated"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		ValueEqual("frequency", "weekly").
		ValueEqual("status", "active")

	// Re-upserting replaces the schedule rather than stacking a second one.
	e.PUT(scheduleURL).
		WithHeader("Authorization", auth).
		WithJSON(map[string]interface{}{"frequency": "custom", "customDays": 10, "method": "generated"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		ValueEqual("frequency", "custom").
		ValueEqual("custom_days", 10)

	e.DELETE(scheduleURL).
		WithHeader("Authorization", auth).
		Expect().
		Status(http.StatusOK)

	e.GET(scheduleURL).
		WithHeader("Authorization", auth).
		Expect().
		Status(http.StatusNotFound)

	t.Run("UnknownFrequency", func(t *testing.T) {
		e.PUT(scheduleURL).
			WithHeader("Authorization", auth).
			WithJSON(map[string]interface{}{"frequency": "hourly", "method": "generated"}).
			Expect().
			Status(http.StatusBadRequest)
	})
}

func TestAPIRotation_ViewerCannotRotate(t *testing.T) {
	s, ts := startTestServer(t)
	project := uniqueTestID("proj-api-rotate-deny")
	cleanupProject(t, s, project)

	owner := uniqueTestID("owner")
	viewer := uniqueTestID("viewer")
	grantRole(t, s, owner, "owner", project)
	grantRole(t, s, viewer, "viewer", project)

	e := httpexpect.Default(t, ts.URL)
	secretID := seedRotationSecret(t, e, project, "Bearer "+makeToken(t, owner))

	e.POST("/secrets/v1/projects/"+project+"/secrets/"+secretID+"/rotate").
		WithHeader("Authorization", "Bearer "+makeToken(t, viewer)).
		WithJSON(map[string]interface{}{"strategy": "regenerate"}).
		Expect().
		Status(http.StatusForbidden).
		JSON().Object().
		ValueEqual("error", "access_denied")
}

func TestAPIRotation_ForeignProjectSecretIDReadsAsAbsent(t *testing.T) {
	s, ts := startTestServer(t)
	projectA := uniqueTestID("proj-api-rotate-cross-a")
	projectB := uniqueTestID("proj-api-rotate-cross-b")
	cleanupProject(t, s, projectA)
	cleanupProject(t, s, projectB)

	intruder := uniqueTestID("intruder")
	ownerB := uniqueTestID("owner-b")
	grantRole(t, s, intruder, "owner", projectA)
	grantRole(t, s, ownerB, "owner", projectB)

	e := httpexpect.Default(t, ts.URL)
	secretID := seedRotationSecret(t, e, projectB, "Bearer "+makeToken(t, ownerB))

	// Ownership of project A grants nothing over project B's secret,
	// whatever project the URL names.
	authA := "Bearer " + makeToken(t, intruder)
	e.POST("/secrets/v1/projects/"+projectA+"/secrets/"+secretID+"/rotate").
		WithHeader("Authorization", authA).
		WithJSON(map[string]interface{}{"strategy": "regenerate"}).
		Expect().
		Status(http.StatusNotFound).
		JSON().Object().
		ValueEqual("error", "not_found")
	e.POST("/secrets/v1/projects/"+projectA+"/secrets/"+secretID+"/promote").
		WithHeader("Authorization", authA).
		Expect().
		Status(http.StatusNotFound)
	e.PUT("/secrets/v1/projects/"+projectA+"/secrets/"+secretID+"/rotation-schedule").
		WithHeader("Authorization", authA).
		WithJSON(map[string]interface{}{"frequency": "weekly"}).
		Expect().
		Status(http.StatusNotFound)
	e.GET("/secrets/v1/projects/"+projectA+"/secrets/"+secretID+"/rotation-schedule").
		WithHeader("Authorization", authA).
		Expect().
		Status(http.StatusNotFound)
	e.DELETE("/secrets/v1/projects/"+projectA+"/secrets/"+secretID+"/rotation-schedule").
		WithHeader("Authorization", authA).
		Expect().
		Status(http.StatusNotFound)

	// The secret never rotated.
	e.GET("/secrets/v1/projects/"+projectB+"/environments/staging/secrets/ROTATE_ME").
		WithHeader("Authorization", "Bearer "+makeToken(t, ownerB)).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		ValueEqual("version", "1").
		ValueEqual("value", "original")
}
