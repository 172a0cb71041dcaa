package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memberdesk/memberdesk/internal/app"
	"github.com/memberdesk/memberdesk/internal/auth"
	"github.com/memberdesk/memberdesk/internal/platform/db/dbtest"
	_ "github.com/memberdesk/memberdesk/testing"
)

const principal = "9a1f7c3e-2d4b-4e8a-9c6f-5b3a1d0e7f21"

func identityServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": principal})
	})
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access",
			"refresh_token": "refresh",
			"expires_in":    3600,
			"user":          map[string]any{"id": principal},
		})
	})
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	creds auth.CredentialStore
	opts  Options
}

func newHarness(t *testing.T, signedIn bool, rows ...dbtest.Result) *harness {
	t.Helper()
	srv := identityServer(t)
	h := &harness{creds: auth.NewMemoryCredentialStore()}
	if signedIn {
		require.NoError(t, h.creds.Save(context.Background(), &auth.Credentials{
			UserID:       principal,
			AccessToken:  "access",
			RefreshToken: "refresh",
			ExpiresAt:    time.Now().Add(time.Hour),
		}))
	}
	querier := dbtest.NewQuerier(rows...)
	h.opts = Options{
		LoadConfig: func() (*app.Config, error) {
			return &app.Config{
				AppEnv:              "test",
				LogFormat:           "text",
				LogLevel:            "error",
				AuthURL:             srv.URL,
				AuthAnonKey:         "anon",
				ProviderCallTimeout: time.Second,
				CredentialStore:     "memory",
				RoleCacheTTL:        5 * time.Minute,
				RoleCacheSize:       8,
				RetryMaxAttempts:    1,
				RetryDelay:          time.Millisecond,
				RateLimit:           100,
				AppRequestTimeout:   time.Second,
			}, nil
		},
		Build: func(ctx context.Context, cfg *app.Config, _ *slog.Logger) (*app.Container, error) {
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			return app.Build(ctx, cfg, logger, app.Deps{DB: querier, Credentials: h.creds})
		},
	}
	return h
}

func run(cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootHelpListsCommands(t *testing.T) {
	out, err := run(NewRootCommand(Options{}), "--help")
	require.NoError(t, err)
	for _, name := range []string{"serve", "worker", "whoami", "can-access", "login", "signout", "revalidate"} {
		assert.Contains(t, out, name)
	}
}

func TestRootRejectsUnknownOutput(t *testing.T) {
	h := newHarness(t, false)
	_, err := run(NewRootCommand(h.opts), "whoami", "-o", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestWhoamiJSON(t *testing.T) {
	h := newHarness(t, true, dbtest.Result{Rows: [][]any{{"admin"}}})

	out, err := run(NewRootCommand(h.opts), "whoami", "-o", "json")
	require.NoError(t, err)

	var got whoamiOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "resolved", got.Status)
	assert.Equal(t, principal, got.PrincipalID)
	assert.Equal(t, "admin", got.Role)
	assert.Equal(t, "role_assignment", got.Stage)
	assert.Contains(t, got.Tabs, "financials")
}

func TestWhoamiAnonymousTable(t *testing.T) {
	h := newHarness(t, false)

	out, err := run(NewRootCommand(h.opts), "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "anonymous")
	assert.NotContains(t, out, "Role:")
}

func TestCanAccess(t *testing.T) {
	h := newHarness(t, true, dbtest.Result{Rows: [][]any{{"member"}}})

	out, err := run(NewRootCommand(h.opts), "can-access", "dashboard")
	require.NoError(t, err)
	assert.Contains(t, out, "dashboard: allowed")

	out, err = run(NewRootCommand(h.opts), "can-access", "financials")
	require.ErrorIs(t, err, ErrAccessDenied)
	assert.Contains(t, out, "financials: denied")
}

func TestCanAccessRequiresTab(t *testing.T) {
	h := newHarness(t, true)
	_, err := run(NewRootCommand(h.opts), "can-access")
	require.Error(t, err)
}

func TestLoginStoresSession(t *testing.T) {
	h := newHarness(t, false, dbtest.Result{Rows: [][]any{{"collector"}}})

	out, err := run(NewRootCommand(h.opts), "login", "--email", "ada@example.org", "--password", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "collector")

	creds, err := h.creds.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, principal, creds.UserID)
}

func TestLoginRequiresPassword(t *testing.T) {
	t.Setenv(passwordEnv, "")
	h := newHarness(t, false)
	_, err := run(NewRootCommand(h.opts), "login", "--email", "ada@example.org")
	require.Error(t, err)
	assert.Contains(t, err.Error(), passwordEnv)
}

func TestSignOutClearsCredentials(t *testing.T) {
	h := newHarness(t, true)

	out, err := run(NewRootCommand(h.opts), "signout")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out.")

	creds, err := h.creds.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestServeSkipsInTestMode(t *testing.T) {
	h := newHarness(t, false)
	_, err := run(NewRootCommand(h.opts), "serve")
	require.NoError(t, err)
}
