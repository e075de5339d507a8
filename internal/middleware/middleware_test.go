package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/escrow/internal/admin"
	"github.com/playmatatu/escrow/internal/escrow"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestTokenRoundTrip(t *testing.T) {
	token, exp, err := IssueToken("secret", "alice", []string{admin.RolePlayer}, time.Minute)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := ParseToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, []string{admin.RolePlayer}, claims.Roles)

	_, err = ParseToken("other", token)
	assert.Error(t, err)

	expired, _, err := IssueToken("secret", "alice", nil, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken("secret", expired)
	assert.Error(t, err)
}

func TestAuthMiddlewareSetsOrigin(t *testing.T) {
	r := gin.New()
	var signed, privileged escrow.Origin
	r.GET("/", AuthMiddleware("secret"), func(c *gin.Context) {
		signed = SignedOrigin(c)
		privileged = PrivilegedOrigin(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, _, err := IssueToken("secret", "ops", []string{admin.RoleRoot}, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, escrow.Signed("ops"), signed)
	assert.Equal(t, escrow.Root("ops"), privileged)
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(1, 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	limited := 0
	for i := 0; i < 6; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if i == 0 {
			assert.Equal(t, http.StatusOK, w.Code)
			assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
		}
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.GreaterOrEqual(t, limited, 1)
}

func TestMetricsRecordsRoute(t *testing.T) {
	reg := gometrics.NewRegistry()
	r := gin.New()
	r.Use(Metrics(reg))
	r.GET("/games/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/games/3", nil))

	assert.Equal(t, int64(1), gometrics.GetOrRegisterTimer("http.GET /games/:id", reg).Count())
	assert.Equal(t, int64(1), gometrics.GetOrRegisterCounter("http.status.4xx", reg).Count())
}
