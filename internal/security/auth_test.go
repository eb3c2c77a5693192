package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/chat-service/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver() *TokenResolver {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	return NewTokenResolver(&cfg)
}

func TestResolveOpaqueToken(t *testing.T) {
	resolver := newTestResolver()
	userID := uuid.New()

	identity, err := resolver.Resolve(context.Background(), userID.String())
	require.NoError(t, err)
	assert.Equal(t, userID, identity.UserID)
}

func TestResolveRejectsNonUUIDToken(t *testing.T) {
	resolver := newTestResolver()

	_, err := resolver.Resolve(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, errNotAUserID)
}

func TestResolveRejectsOpaqueTokenOutsideTestingMode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeProd
	resolver := NewTokenResolver(&cfg)

	_, err := resolver.Resolve(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, errOpaqueToken)
}

func authTestRouter(resolver *TokenResolver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AuthMiddleware(resolver))
	router.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": GetUserID(c)})
	})
	return router
}

func TestAuthMiddleware(t *testing.T) {
	resolver := newTestResolver()
	router := authTestRouter(resolver)
	userID := uuid.New()

	cases := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"valid bearer token", "Bearer " + userID.String(), http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"not a bearer token", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"unresolvable token", "Bearer nope", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tc.wantStatus, w.Code)
			if tc.wantStatus == http.StatusOK {
				assert.Contains(t, w.Body.String(), userID.String())
			}
		})
	}
}

func TestGetUserIDWithoutIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	assert.Equal(t, uuid.Nil, GetUserID(c))
}
