package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memberdesk/memberdesk/internal/auth"
	"github.com/memberdesk/memberdesk/internal/platform/db/dbtest"
	"github.com/memberdesk/memberdesk/internal/platform/httpx"
)

const principal = "2b9d4c1e-8f0a-4d55-bb61-0c3f0f3a7e10"

type identityStub struct {
	rejected atomic.Bool
}

func (s *identityStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/v1/user":
		if s.rejected.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": principal, "user_metadata": map[string]any{"member_number": "M-7"}})
	case "/auth/v1/logout":
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func testConfig(authURL string) *Config {
	return &Config{
		AppEnv:              "test",
		AppRequestTimeout:   5 * time.Second,
		RateLimit:           1000,
		LogFormat:           "text",
		LogLevel:            "error",
		AuthURL:             authURL,
		AuthAnonKey:         "anon",
		ProviderCallTimeout: time.Second,
		CredentialStore:     "memory",
		RoleCacheTTL:        5 * time.Minute,
		RoleCacheSize:       16,
		RetryMaxAttempts:    2,
		RetryDelay:          time.Millisecond,
	}
}

func buildContainer(t *testing.T, signedIn bool, rows ...dbtest.Result) (*Container, *identityStub, auth.CredentialStore) {
	t.Helper()
	stub := &identityStub{}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	creds := auth.NewMemoryCredentialStore()
	if signedIn {
		require.NoError(t, creds.Save(context.Background(), &auth.Credentials{
			UserID:       principal,
			AccessToken:  "access",
			RefreshToken: "refresh",
			ExpiresAt:    time.Now().Add(time.Hour),
			Metadata:     map[string]string{"member_number": "M-7"},
		}))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := Build(context.Background(), testConfig(srv.URL), logger, Deps{
		DB:          dbtest.NewQuerier(rows...),
		Credentials: creds,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, stub, creds
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, bytes.NewReader(nil)))
	return rr
}

func TestContainerResolvesSignedInAdmin(t *testing.T) {
	c, _, _ := buildContainer(t, true, dbtest.Result{Rows: [][]any{{"admin"}}})

	rr := do(t, c.Router, http.MethodGet, "/api/role")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var role map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &role))
	assert.Equal(t, "admin", role["role"])
	assert.Equal(t, "role_assignment", role["stage"])

	assert.Equal(t, http.StatusOK, do(t, c.Router, http.MethodGet, "/api/tabs/financials").Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	metrics := do(t, c.Router, http.MethodGet, "/metrics").Body.String()
	assert.True(t, strings.Contains(metrics, `memberdesk_role_resolutions_total{outcome="found",stage="role_assignment"} 1`), metrics)
	assert.True(t, strings.Contains(metrics, `memberdesk_session_validations_total{outcome="valid"} 1`), metrics)
}

func TestContainerFallsBackToCollectorRecord(t *testing.T) {
	c, _, _ := buildContainer(t, true,
		dbtest.Result{},
		dbtest.Result{Rows: [][]any{{"c-1", "Ada", "M-7"}}},
	)

	rr := do(t, c.Router, http.MethodGet, "/api/navigation")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"role":"collector"`)
	assert.Equal(t, http.StatusForbidden, do(t, c.Router, http.MethodGet, "/api/tabs/financials").Code)
}

func TestContainerAnonymous(t *testing.T) {
	c, _, _ := buildContainer(t, false)

	rr := do(t, c.Router, http.MethodGet, "/api/tabs/dashboard")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))

	assert.Equal(t, http.StatusOK, do(t, c.Router, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusOK, do(t, c.Router, http.MethodGet, "/jobs/health").Code)
}

func TestContainerRejectedSession(t *testing.T) {
	c, stub, creds := buildContainer(t, true, dbtest.Result{Rows: [][]any{{"member"}}})
	require.Equal(t, http.StatusOK, do(t, c.Router, http.MethodGet, "/api/role").Code)

	stub.rejected.Store(true)
	rr := do(t, c.Router, http.MethodPost, "/api/session/refresh")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, httpx.TypeSessionInvalid, problem.Type)

	stored, err := creds.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Equal(t, 0, c.RoleCache.Len())
}
