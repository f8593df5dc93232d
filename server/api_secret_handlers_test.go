package server

import (
	"net/http"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/legit-games/secrets-service/cipher"
)

func TestTokenMiddleware_RejectsBadCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(&AppConfig{}, nil, testCipher(t), Options{})
	ts := newAuthTestServer(t, s)

	e := httpexpect.Default(t, ts)

	t.Run("NoAuthHeader", func(t *testing.T) {
		e.GET("/secrets/v1/projects/proj/environments/development/secrets").
			Expect().
			Status(http.StatusUnauthorized).
			JSON().Object().
			ValueEqual("error", "unauthorized")
	})

	t.Run("MalformedHeader", func(t *testing.T) {
		e.GET("/secrets/v1/projects/proj/environments/development/secrets").
			WithHeader("Authorization", "Basic not-a-bearer").
			Expect().
			Status(http.StatusUnauthorized)
	})

	t.Run("InvalidToken", func(t *testing.T) {
		e.GET("/secrets/v1/projects/proj/environments/development/secrets").
			WithHeader("Authorization", "Bearer not-a-jwt").
			Expect().
			Status(http.StatusUnauthorized)
	})

	t.Run("WrongSigningKey", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u"})
		signed, err := tok.SignedString([]byte("wrong-key"))
		if err != nil {
			t.Fatalf("failed to sign token: %v", err)
		}
		e.GET("/secrets/v1/projects/proj/environments/development/secrets").
			WithHeader("Authorization", "Bearer "+signed).
			Expect().
			Status(http.StatusUnauthorized)
	})
}

func TestAPISecrets_WriteAndMaskingByRole(t *testing.T) {
	s, ts := startTestServer(t)
	project := uniqueTestID("proj-api-mask")
	cleanupProject(t, s, project)

	owner := uniqueTestID("owner")
	viewer := uniqueTestID("viewer")
	grantRole(t, s, owner, "owner", project)
	grantRole(t, s, viewer, "viewer", project)

	e := httpexpect.Default(t, ts.URL)

	e.PUT("/secrets/v1/projects/"+project+"/environments/development/secrets").
		WithHeader("Authorization", "Bearer "+makeToken(t, owner)).
		WithJSON(map[string]interface{}{
			"secrets": []map[string]interface{}{
				{"key": "DATABASE_URL", "value": "postgres://real"},
				{"key": "API_TOKEN", "value": "tok-123"},
			},
		}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("secrets").Array().Length().IsEqual(2)

	t.Run("OwnerSeesPlaintext", func(t *testing.T) {
		obj := e.GET("/secrets/v1/projects/"+project+"/environments/development/secrets/DATABASE_URL").
			WithHeader("Authorization", "Bearer "+makeToken(t, owner)).
			Expect().
			Status(http.StatusOK).
			JSON().Object()
		obj.ValueEqual("key", "DATABASE_URL")
		obj.ValueEqual("value", "postgres://real")
		obj.ValueEqual("version", "1")
	})

	t.Run("ViewerSeesMask", func(t *testing.T) {
		list := e.GET("/secrets/v1/projects/"+project+"/environments/development/secrets").
			WithHeader("Authorization", "Bearer "+makeToken(t, viewer)).
			Expect().
			Status(http.StatusOK).
			JSON().Object().
			Value("secrets").Array()
		list.Length().IsEqual(2)
		for i := 0; i < 2; i++ {
			list.Value(i).Object().ValueEqual("value", "***")
		}
	})

	t.Run("ViewerGetIsMaskedNotDenied", func(t *testing.T) {
		e.GET("/secrets/v1/projects/"+project+"/environments/development/secrets/API_TOKEN").
			WithHeader("Authorization", "Bearer "+makeToken(t, viewer)).
			Expect().
			Status(http.StatusOK).
			JSON().Object().
			ValueEqual("key", "API_TOKEN").
			ValueEqual("value", "***")
	})

	t.Run("StrangerIsDenied", func(t *testing.T) {
		e.GET("/secrets/v1/projects/"+project+"/environments/development/secrets").
			WithHeader("Authorization", "Bearer "+makeToken(t, uniqueTestID("nobody"))).
			Expect().
			Status(http.StatusForbidden).
			JSON().Object().
			ValueEqual("error", "access_denied")
	})
}

func TestAPISecrets_VersionConflictBody(t *testing.T) {
	s, ts := startTestServer(t)
	project := uniqueTestID("proj-api-conflict")
	cleanupProject(t, s, project)

	owner := uniqueTestID("owner")
	grantRole(t, s, owner, "owner", project)

	e := httpexpect.Default(t, ts.URL)
	auth := "Bearer " + makeToken(t, owner)

	e.PUT("/secrets/v1/projects/"+project+"/environments/development/secrets").
		WithHeader("Authorization", auth).
		WithJSON(map[string]interface{}{
			"secrets": []map[string]interface{}{{"key": "K", "value": "v1"}},
		}).
		Expect().Status(http.StatusOK)
	e.PUT("/secrets/v1/projects/"+project+"/environments/development/secrets").
		WithHeader("Authorization", auth).
		WithJSON(map[string]interface{}{
			"secrets": []map[string]interface{}{{"key": "K", "value": "v2"}},
		}).
		Expect().Status(http.StatusOK)

	// Stale expectation: version moved to 2 already.
	obj := e.PUT("/secrets/v1/projects/"+project+"/environments/development/secrets").
		WithHeader("Authorization", auth).
		WithJSON(map[string]interface{}{
			"secrets": []map[string]interface{}{
				{"key": "K", "value": "v3", "expectedVersion": "1"},
			},
		}).
		Expect().
		Status(http.StatusConflict).
		JSON().Object()
	obj.ValueEqual("error", "version_conflict")
	conflict := obj.Value("conflicts").Array()
	conflict.Length().IsEqual(1)
	conflict.Value(0).Object().
		ValueEqual("key", "K").
		ValueEqual("expected_version", "1").
		ValueEqual("actual_version", "2")

	// The rejected batch must not have advanced anything.
	e.GET("/secrets/v1/projects/"+project+"/environments/development/secrets/K").
		WithHeader("Authorization", auth).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		ValueEqual("version", "2").
		ValueEqual("value", "v2")
}

func TestAPISecrets_HistoryAndRollback(t *testing.T) {
	s, ts := startTestServer(t)
	project := uniqueTestID("proj-api-rollback")
	cleanupProject(t, s, project)

	owner := uniqueTestID("owner")
	grantRole(t, s, owner, "owner", project)

	e := httpexpect.Default(t, ts.URL)
	auth := "Bearer " + makeToken(t, owner)

	for _, v := range []string{"first", "second"} {
		e.PUT("/secrets/v1/projects/"+project+"/environments/staging/secrets").
			WithHeader("Authorization", auth).
			WithJSON(map[string]interface{}{
				"secrets": []map[string]interface{}{{"key": "ROLL", "value": v}},
			}).
			Expect().Status(http.StatusOK)
	}

	secretID := e.GET("/secrets/v1/projects/"+project+"/environments/staging/secrets/ROLL").
		WithHeader("Authorization", auth).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("id").String().Raw()

	e.GET("/secrets/v1/projects/"+project+"/secrets/"+secretID+"/history").
		WithHeader("Authorization", auth).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("history").Array().Length().IsEqual(2)

	// Rolling back writes a new version rather than rewriting the old one.
	e.POST("/secrets/v1/projects/"+project+"/secrets/"+secretID+"/rollback").
		WithHeader("Authorization", auth).
		WithJSON(map[string]interface{}{"version": "1"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		ValueEqual("version", "3")

	e.GET("/secrets/v1/projects/"+project+"/environments/staging/secrets/ROLL").
		WithHeader("Authorization", auth).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		ValueEqual("value", "first")

	t.Run("RollbackToUnknownVersion", func(t *testing.T) {
		e.POST("/secrets/v1/projects/"+project+"/secrets/"+secretID+"/rollback").
			WithHeader("Authorization", auth).
			WithJSON(map[string]interface{}{"version": "99"}).
			Expect().
			Status(http.StatusNotFound)
	})
}

func TestAPISecrets_UndecryptableValueIsReported(t *testing.T) {
	s, ts := startTestServer(t)
	project := uniqueTestID("proj-api-baddec")
	cleanupProject(t, s, project)

	owner := uniqueTestID("owner")
	grantRole(t, s, owner, "owner", project)

	e := httpexpect.Default(t, ts.URL)
	auth := "Bearer " + makeToken(t, owner)

	e.PUT("/secrets/v1/projects/"+project+"/environments/development/secrets").
		WithHeader("Authorization", auth).
		WithJSON(map[string]interface{}{
			"secrets": []map[string]interface{}{{"key": "CORRUPT", "value": "readable"}},
		}).
		Expect().Status(http.StatusOK)
	secretID := e.GET("/secrets/v1/projects/"+project+"/environments/development/secrets/CORRUPT").
		WithHeader("Authorization", auth).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("id").String().Raw()

	// Re-encrypt the stored rows under a different master key so they still
	// parse as envelopes but no longer open.
	other, err := cipher.NewFromPassphrase("some-other-master-key", "test-salt")
	if err != nil {
		t.Fatalf("failed to build cipher: %v", err)
	}
	bad, err := other.EncryptToString("readable")
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}
	s.DB.Exec(`UPDATE secrets SET value = ? WHERE id = ?`, bad, secretID)
	s.DB.Exec(`UPDATE secret_history SET value = ? WHERE secret_id = ?`, bad, secretID)

	e.GET("/secrets/v1/projects/"+project+"/environments/development/secrets/CORRUPT").
		WithHeader("Authorization", auth).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		ValueEqual("value", "[Decryption failed]")

	history := e.GET("/secrets/v1/projects/"+project+"/secrets/"+secretID+"/history").
		WithHeader("Authorization", auth).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("history").Array()
	history.Length().IsEqual(1)
	history.Value(0).Object().ValueEqual("value", "[Decryption failed]")
}

func TestAPISecrets_ForeignProjectSecretIDReadsAsAbsent(t *testing.T) {
	s, ts := startTestServer(t)
	projectA := uniqueTestID("proj-api-cross-a")
	projectB := uniqueTestID("proj-api-cross-b")
	cleanupProject(t, s, projectA)
	cleanupProject(t, s, projectB)

	intruder := uniqueTestID("intruder")
	ownerB := uniqueTestID("owner-b")
	grantRole(t, s, intruder, "owner", projectA)
	grantRole(t, s, ownerB, "owner", projectB)

	e := httpexpect.Default(t, ts.URL)
	authB := "Bearer " + makeToken(t, ownerB)

	e.PUT("/secrets/v1/projects/"+projectB+"/environments/development/secrets").
		WithHeader("Authorization", authB).
		WithJSON(map[string]interface{}{
			"secrets": []map[string]interface{}{{"key": "B_ONLY", "value": "b-secret"}},
		}).
		Expect().Status(http.StatusOK)
	secretID := e.GET("/secrets/v1/projects/"+projectB+"/environments/development/secrets/B_ONLY").
		WithHeader("Authorization", authB).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("id").String().Raw()

	// Roles held on project A must not reach project B's secret through a
	// by-id URL naming project A.
	authA := "Bearer " + makeToken(t, intruder)
	e.GET("/secrets/v1/projects/"+projectA+"/secrets/"+secretID+"/history").
		WithHeader("Authorization", authA).
		Expect().
		Status(http.StatusNotFound).
		JSON().Object().
		ValueEqual("error", "not_found")
	e.POST("/secrets/v1/projects/"+projectA+"/secrets/"+secretID+"/rollback").
		WithHeader("Authorization", authA).
		WithJSON(map[string]interface{}{"version": "1"}).
		Expect().
		Status(http.StatusNotFound)

	// The row is untouched.
	e.GET("/secrets/v1/projects/"+projectB+"/environments/development/secrets/B_ONLY").
		WithHeader("Authorization", authB).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		ValueEqual("version", "1").
		ValueEqual("value", "b-secret")
}

func TestAPISecrets_GetUnknownKey(t *testing.T) {
	s, ts := startTestServer(t)
	project := uniqueTestID("proj-api-404")
	cleanupProject(t, s, project)

	owner := uniqueTestID("owner")
	grantRole(t, s, owner, "owner", project)

	e := httpexpect.Default(t, ts.URL)
	e.GET("/secrets/v1/projects/"+project+"/environments/development/secrets/NOPE").
		WithHeader("Authorization", "Bearer "+makeToken(t, owner)).
		Expect().
		Status(http.StatusNotFound).
		JSON().Object().
		ValueEqual("error", "not_found")

	t.Run("StrangerCannotInferKeyExistence", func(t *testing.T) {
		// Same request without a role on the project is denied before the
		// lookup, so 404 never reveals whether a key exists.
		e.GET("/secrets/v1/projects/"+project+"/environments/development/secrets/NOPE").
			WithHeader("Authorization", "Bearer "+makeToken(t, uniqueTestID("nobody"))).
			Expect().
			Status(http.StatusForbidden).
			JSON().Object().
			ValueEqual("error", "access_denied")
	})
}
