package middlewares

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/fieldreport_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := "s3cret"
	r := gin.New()
	r.GET("/internal", OperatorAuth(secret), func(c *gin.Context) {
		c.String(http.StatusOK, CtxValue(c.Request.Context()).Name)
	})

	good, err := utils.JwtGenerate([]byte(secret), "ops", utils.RoleOperator, time.Hour)
	require.NoError(t, err)
	wrongRole, err := utils.JwtGenerate([]byte(secret), "ops", "viewer", time.Hour)
	require.NoError(t, err)
	otherKey, err := utils.JwtGenerate([]byte("other"), "ops", utils.RoleOperator, time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"wrong key", "Bearer " + otherKey, http.StatusUnauthorized},
		{"wrong role", "Bearer " + wrongRole, http.StatusForbidden},
		{"ok", "Bearer " + good, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/internal", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			if tc.code == http.StatusOK {
				assert.Equal(t, "ops", w.Body.String())
			}
		})
	}
}

func TestOperatorAuth_EmptySecretRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/internal", OperatorAuth(""), func(c *gin.Context) { c.Status(http.StatusOK) })

	token, _ := utils.JwtGenerate([]byte("x"), "ops", utils.RoleOperator, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := "hook-secret"
	body := `{"conversation_id":"c1","status":"done"}`

	r := gin.New()
	r.POST("/hook", WebhookSignature(secret), func(c *gin.Context) {
		b, _ := c.GetRawData()
		c.String(http.StatusOK, string(b))
	})

	send := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
		if sig != "" {
			req.Header.Set(SignatureHeader, sig)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := send("sha256=" + Sign(secret, []byte(body)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, w.Body.String(), "body must be readable after verification")

	assert.Equal(t, http.StatusUnauthorized, send("").Code)
	assert.Equal(t, http.StatusUnauthorized, send("sha256=deadbeef").Code)
	assert.Equal(t, http.StatusUnauthorized, send("sha256=not-hex").Code)
}

func TestWebhookSignature_Disabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/hook", WebhookSignature(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
