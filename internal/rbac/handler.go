package rbac

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/memberdesk/memberdesk/internal/platform/httpx"
	"github.com/memberdesk/memberdesk/internal/session"
)

// SessionReader exposes the locally held session.
type SessionReader interface {
	Current() *session.Session
}

// Handler serves the session and role API used by the dashboard shell.
type Handler struct {
	service    *Service
	sessions   SessionReader
	logger     *slog.Logger
	retryAfter time.Duration
}

// NewHandler builds a Handler. retryAfter is advertised on 503 answers.
func NewHandler(service *Service, sessions SessionReader, logger *slog.Logger, retryAfter time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, sessions: sessions, logger: logger, retryAfter: retryAfter}
}

// MountRoutes registers the API routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/session", h.getSession)
	r.Post("/session/refresh", h.refresh)
	r.Get("/role", h.getRole)
	r.Get("/access/{tab}", h.access)
	r.Get("/navigation", h.navigation)
	r.Post("/signout", h.signOut)
}

type roleView struct {
	Status      Status     `json:"status"`
	PrincipalID string     `json:"principal_id,omitempty"`
	Role        string     `json:"role,omitempty"`
	Stage       string     `json:"stage,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

func toRoleView(st RoleState) roleView {
	v := roleView{Status: st.Status, PrincipalID: st.PrincipalID}
	if st.Status == StatusResolved {
		v.Role = st.Role.String()
		v.Stage = string(st.Stage)
		if !st.ResolvedAt.IsZero() {
			at := st.ResolvedAt
			v.ResolvedAt = &at
		}
	}
	return v
}

type sessionView struct {
	Authenticated bool      `json:"authenticated"`
	PrincipalID   string    `json:"principal_id,omitempty"`
	MemberNumber  string    `json:"member_number,omitempty"`
	IssuedAt      time.Time `json:"issued_at,omitzero"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
}

type accessView struct {
	Tab     string `json:"tab"`
	Allowed bool   `json:"allowed"`
}

type navigationView struct {
	Role  string    `json:"role"`
	Items []NavItem `json:"items"`
}

// usable reports whether st can be answered with 200; otherwise it writes
// the matching problem.
func (h *Handler) usable(w http.ResponseWriter, st RoleState) bool {
	if st.Status == StatusResolved || st.Status == StatusAnonymous {
		return true
	}
	writeStateProblem(w, st, h.retryAfter)
	return false
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	st := settled(r.Context(), h.service)
	if !h.usable(w, st) {
		return
	}
	sess := h.sessions.Current()
	if st.Status == StatusAnonymous || sess == nil {
		httpx.JSON(w, http.StatusOK, sessionView{})
		return
	}
	httpx.JSON(w, http.StatusOK, sessionView{
		Authenticated: true,
		PrincipalID:   sess.PrincipalID,
		MemberNumber:  sess.MemberNumber(),
		IssuedAt:      sess.IssuedAt,
		ExpiresAt:     sess.ExpiresAt,
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	st := h.service.Refresh(r.Context())
	if !h.usable(w, st) {
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleView(st))
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	st := settled(r.Context(), h.service)
	if !h.usable(w, st) {
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleView(st))
}

func (h *Handler) access(w http.ResponseWriter, r *http.Request) {
	tab := chi.URLParam(r, "tab")
	st := settled(r.Context(), h.service)
	if !h.usable(w, st) {
		return
	}
	httpx.JSON(w, http.StatusOK, accessView{Tab: tab, Allowed: h.service.CanAccessTab(tab)})
}

func (h *Handler) navigation(w http.ResponseWriter, r *http.Request) {
	st := settled(r.Context(), h.service)
	if !h.usable(w, st) {
		return
	}
	httpx.JSON(w, http.StatusOK, navigationView{Role: st.Role.String(), Items: h.service.Navigation()})
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SignOut(r.Context()); err != nil {
		h.logger.Warn("sign out", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}
