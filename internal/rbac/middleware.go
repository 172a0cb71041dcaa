package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/memberdesk/memberdesk/internal/platform/httpx"
	"github.com/memberdesk/memberdesk/internal/roles"
	"github.com/memberdesk/memberdesk/internal/session"
)

// Middleware wires tab authorization into HTTP handlers.
type Middleware struct {
	Service    *Service
	Logger     *slog.Logger
	RetryAfter time.Duration
}

// RequireTab lets the request through only when the current role may open tab.
func (m Middleware) RequireTab(tab Tab) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := settled(r.Context(), m.Service)
			if st.Status != StatusResolved {
				writeStateProblem(w, st, m.RetryAfter)
				return
			}
			if !CanAccess(st.Role, string(tab)) {
				if m.Logger != nil {
					m.Logger.Info("tab denied", slog.String("tab", string(tab)), slog.String("role", st.Role.String()))
				}
				httpx.Forbidden(w, "role "+st.Role.String()+" may not open "+string(tab))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// settled returns the current state, refreshing first if nothing has
// settled yet.
func settled(ctx context.Context, svc *Service) RoleState {
	st := svc.State()
	if st.Status == StatusPending {
		st = svc.Refresh(ctx)
	}
	return st
}

// writeStateProblem answers for every state that carries no usable role.
func writeStateProblem(w http.ResponseWriter, st RoleState, retryAfter time.Duration) {
	switch st.Status {
	case StatusInvalid:
		httpx.SessionInvalid(w, session.SignInPath, session.ExpiredNotice.Description)
	case StatusAnonymous:
		httpx.Unauthenticated(w, session.SignInPath)
	case StatusError:
		switch {
		case errors.Is(st.Err, session.ErrProviderUnavailable):
			httpx.Unavailable(w, "Identity provider unavailable", "try again", retryAfter)
		case errors.Is(st.Err, roles.ErrResolutionFailed):
			httpx.Unavailable(w, "Role unknown", "role could not be resolved, retry", retryAfter)
		case errors.Is(st.Err, context.Canceled), errors.Is(st.Err, context.DeadlineExceeded):
			httpx.Unavailable(w, "Request interrupted", "try again", retryAfter)
		default:
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
	default:
		httpx.Unavailable(w, "Role pending", "try again", retryAfter)
	}
}
