package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/services"
	"streamgate/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type authTestEnv struct {
	auth   services.AuthService
	router *gin.Engine
	tokens map[domain.UserID]string
}

func newAuthTestEnv(t *testing.T) *authTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	userRepo := memory.NewMemoryUserRepository()
	auth := services.NewAuthService(userRepo, "mw-test-secret", 15*time.Minute, 24*time.Hour,
		services.NewMetricsService(), zaptest.NewLogger(t).Sugar())

	hash, err := bcrypt.GenerateFromPassword([]byte("pass"), bcrypt.MinCost)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, userRepo.Create(ctx, &domain.UserProfile{
		ID: "sub-1", Email: "sub@example.com", Role: domain.RoleSubscriber,
		PasswordHash: string(hash), Active: true,
	}))
	require.NoError(t, userRepo.Create(ctx, &domain.UserProfile{
		ID: "pub-1", Email: "pub@example.com", Role: domain.RolePublisher,
		PasswordHash: string(hash), Active: true,
	}))

	tokens := make(map[domain.UserID]string)
	for _, email := range []string{"sub@example.com", "pub@example.com"} {
		result, err := auth.Login(ctx, email, "pass")
		require.NoError(t, err)
		tokens[result.User.ID] = result.AccessToken
	}

	return &authTestEnv{auth: auth, router: gin.New(), tokens: tokens}
}

func get(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	env := newAuthTestEnv(t)
	env.router.Use(AuthMiddleware(env.auth))
	env.router.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserIDFromContext(c)})
	})

	w := get(env.router, "/me", env.tokens["sub-1"])
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sub-1")

	assert.Equal(t, http.StatusUnauthorized, get(env.router, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(env.router, "/me", "not-a-token").Code)

	w = httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "only bearer tokens are accepted")
}

func TestRequireRole(t *testing.T) {
	env := newAuthTestEnv(t)
	env.router.Use(AuthMiddleware(env.auth))
	env.router.GET("/publish", RequireRole(domain.RolePublisher), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, get(env.router, "/publish", env.tokens["pub-1"]).Code)
	assert.Equal(t, http.StatusForbidden, get(env.router, "/publish", env.tokens["sub-1"]).Code)
}

func TestDeviceSessionMiddleware_SupersededLogin(t *testing.T) {
	env := newAuthTestEnv(t)
	env.router.Use(AuthMiddleware(env.auth), DeviceSessionMiddleware(env.auth))
	env.router.GET("/feed", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	oldToken := env.tokens["sub-1"]
	assert.Equal(t, http.StatusOK, get(env.router, "/feed", oldToken).Code)

	// A login from a second device replaces the subscriber's device session.
	_, err := env.auth.Login(context.Background(), "sub@example.com", "pass")
	require.NoError(t, err)

	w := get(env.router, "/feed", oldToken)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "SESSION_SUPERSEDED")

	// Publishers are not subject to the single-device rule.
	assert.Equal(t, http.StatusOK, get(env.router, "/feed", env.tokens["pub-1"]).Code)
}
