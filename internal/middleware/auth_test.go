package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-maintenance/internal/access"
	"github.com/ukydev/fleet-maintenance/internal/auth"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newAuth(t *testing.T) (*auth.Service, *AuthMiddleware) {
	t.Helper()
	authService, err := auth.NewService("middleware-secret", time.Hour)
	require.NoError(t, err)
	return authService, NewAuthMiddleware(authService, "/metrics")
}

func tokenFor(t *testing.T, s *auth.Service, role models.Role, site string) string {
	t.Helper()
	token, err := s.GenerateToken(&models.User{ID: primitive.NewObjectID(), Username: string(role), Role: role, SiteID: site})
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	authService, middleware := newAuth(t)

	t.Run("valid token", func(t *testing.T) {
		token := tokenFor(t, authService, models.RoleTechnician, "site-north")
		req := httptest.NewRequest("GET", "/api/requests", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
			claims, ok := GetUserFromContext(r.Context())
			assert.True(t, ok)
			assert.Equal(t, models.RoleTechnician, claims.Role)
			assert.Equal(t, "site-north", claims.SiteID)
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejected credentials", func(t *testing.T) {
		for _, header := range []string{"", "Bearer invalid-token", "Token abc"} {
			req := httptest.NewRequest("GET", "/api/requests", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()

			handlerCalled := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			})

			middleware.Authenticate(handler).ServeHTTP(w, req)
			assert.False(t, handlerCalled, "header %q", header)
			assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
		}
	})

	t.Run("skip auth path", func(t *testing.T) {
		for _, path := range []string{"/api/auth/login", "/health", "/metrics"} {
			req := httptest.NewRequest("GET", path, nil)
			w := httptest.NewRecorder()

			handlerCalled := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			})

			middleware.Authenticate(handler).ServeHTTP(w, req)
			assert.True(t, handlerCalled, path)
		}
	})

	t.Run("public paths match exactly", func(t *testing.T) {
		custom := NewAuthMiddleware(authService, "/internal/prom")
		tests := []struct {
			path string
			want int
		}{
			{"/internal/prom", http.StatusOK},
			{"/health", http.StatusOK},
			{"/metrics", http.StatusUnauthorized},
			{"/healthz", http.StatusUnauthorized},
			{"/api/auth/login-history", http.StatusUnauthorized},
		}
		for _, tt := range tests {
			req := httptest.NewRequest("GET", tt.path, nil)
			w := httptest.NewRecorder()
			custom.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code, tt.path)
		}
	})

	t.Run("register requires a token", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/auth/register", nil)
		w := httptest.NewRecorder()
		middleware.Authenticate(http.NotFoundHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthMiddleware_RequireRole(t *testing.T) {
	authService, middleware := newAuth(t)

	tests := []struct {
		name string
		role models.Role
		want int
	}{
		{"admin passes any role gate", models.RoleAdmin, http.StatusOK},
		{"matching role", models.RoleCoordinator, http.StatusOK},
		{"other role", models.RoleDriver, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/fleet/status", nil)
			req.Header.Set("Authorization", "Bearer "+tokenFor(t, authService, tt.role, "site-north"))
			w := httptest.NewRecorder()

			handler := middleware.Authenticate(middleware.RequireRole(models.RoleCoordinator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAuthMiddleware_RequireAction(t *testing.T) {
	authService, middleware := newAuth(t)

	tests := []struct {
		name   string
		role   models.Role
		action access.Action
		want   int
	}{
		{"coordinator views fleet", models.RoleCoordinator, access.ActionViewFleet, http.StatusOK},
		{"admin manages fleet", models.RoleAdmin, access.ActionManageFleet, http.StatusOK},
		{"coordinator cannot manage fleet", models.RoleCoordinator, access.ActionManageFleet, http.StatusForbidden},
		{"driver cannot view reports", models.RoleDriver, access.ActionViewReport, http.StatusForbidden},
		{"technician cannot submit", models.RoleTechnician, access.ActionSubmit, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/reports", nil)
			req.Header.Set("Authorization", "Bearer "+tokenFor(t, authService, tt.role, "site-north"))
			w := httptest.NewRecorder()

			handler := middleware.Authenticate(middleware.RequireAction(tt.action)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusForbidden {
				var body map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, "forbidden", body["error"])
			}
		})
	}

	t.Run("missing claims", func(t *testing.T) {
		w := httptest.NewRecorder()
		middleware.RequireAction(access.ActionViewFleet)(http.NotFoundHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	middleware := NewRateLimitMiddleware()

	t.Run("rate limit not exceeded", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		})

		middleware.RateLimit(5, time.Minute)(handler).ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rate limit exceeded", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/test", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.9, 172.16.0.1")
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		})

		rateLimitHandler := middleware.RateLimit(1, time.Minute)(handler)

		rateLimitHandler.ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		handlerCalled = false
		rateLimitHandler.ServeHTTP(w, req)
		assert.False(t, handlerCalled)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("window expires", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/test", nil)
		req.RemoteAddr = "192.168.1.7:4000"
		limited := middleware.RateLimit(1, 50*time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		w := httptest.NewRecorder()
		limited.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		limited.ServeHTTP(w, req)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)

		time.Sleep(80 * time.Millisecond)
		w = httptest.NewRecorder()
		limited.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGetUserFromContext(t *testing.T) {
	claims := &models.Claims{
		UserID:   "test-id",
		Username: "testuser",
		Role:     models.RoleAdmin,
	}

	retrievedClaims, ok := GetUserFromContext(WithClaims(context.Background(), claims))
	assert.True(t, ok)
	assert.Equal(t, claims, retrievedClaims)

	_, ok = GetUserFromContext(context.Background())
	assert.False(t, ok)
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&log.JSONFormatter{})

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/requests", nil))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "/api/requests", entry["path"])
	assert.Equal(t, float64(http.StatusServiceUnavailable), entry["status"])
	assert.Equal(t, "error", entry["level"])
}
