package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/memberdesk/memberdesk/internal/roles"
	"github.com/memberdesk/memberdesk/internal/session"
)

// Status is the lifecycle of the exposed role.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnonymous Status = "anonymous"
	StatusResolved  Status = "resolved"
	StatusError     Status = "error"
	StatusInvalid   Status = "invalid"
)

// RoleState is the answer to "what is the current role". Role is only set
// when Status is StatusResolved; Err only for StatusError and StatusInvalid.
type RoleState struct {
	Status      Status
	PrincipalID string
	Role        roles.Role
	Stage       roles.Stage
	ResolvedAt  time.Time
	Err         error
}

// Validator confirms the current session with the identity provider.
type Validator interface {
	Validate(ctx context.Context) (*session.Session, error)
	SignOut(ctx context.Context) error
}

// RoleResolver turns a principal into a role. Generation advances whenever
// cached roles are invalidated.
type RoleResolver interface {
	Resolve(ctx context.Context, p roles.Principal) (roles.Resolution, error)
	Generation() uint64
}

// Service ties session validation, role resolution and tab access together.
type Service struct {
	validator Validator
	resolver  RoleResolver
	events    *session.Broadcaster
	logger    *slog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	state RoleState
	epoch uint64
}

// NewService constructs a Service. events must be the broadcaster the
// validator publishes to.
func NewService(validator Validator, resolver RoleResolver, events *session.Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = session.NewBroadcaster(1)
	}
	return &Service{
		validator: validator,
		resolver:  resolver,
		events:    events,
		logger:    logger,
		state:     RoleState{Status: StatusPending},
	}
}

// State returns the last settled RoleState, or StatusPending before the
// first Refresh completes.
func (s *Service) State() RoleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Refresh validates the session and resolves its role. It always settles
// into anonymous, resolved, error or invalid.
func (s *Service) Refresh(ctx context.Context) RoleState {
	epoch := s.currentEpoch()

	sess, err := s.validator.Validate(ctx)
	var st RoleState
	switch {
	case errors.Is(err, session.ErrInvalid):
		st = RoleState{Status: StatusInvalid, Err: err}
	case err != nil:
		st = RoleState{Status: StatusError, Err: err}
	case sess == nil:
		st = RoleState{Status: StatusAnonymous}
	default:
		st = s.resolve(ctx, sess)
	}
	return s.settle(epoch, st)
}

// resolve runs role resolution for sess. Concurrent callers for the same
// principal and cache generation share one resolution, which keeps running if
// a caller gives up. A caller arriving after an invalidation never joins a
// resolution that started before it.
func (s *Service) resolve(ctx context.Context, sess *session.Session) RoleState {
	principal := roles.Principal{ID: sess.PrincipalID, MemberNumber: sess.MemberNumber()}
	detached := context.WithoutCancel(ctx)
	key := fmt.Sprintf("%s@%d", principal.ID, s.resolver.Generation())
	ch := s.group.DoChan(key, func() (any, error) {
		return s.resolver.Resolve(detached, principal)
	})

	select {
	case <-ctx.Done():
		return RoleState{Status: StatusError, PrincipalID: principal.ID, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			s.logger.Error("role resolution failed", slog.String("principal", principal.ID), slog.Any("error", res.Err))
			return RoleState{Status: StatusError, PrincipalID: principal.ID, Err: res.Err}
		}
		resolution := res.Val.(roles.Resolution)
		return RoleState{
			Status:      StatusResolved,
			PrincipalID: principal.ID,
			Role:        resolution.Role,
			Stage:       resolution.Stage,
			ResolvedAt:  resolution.ResolvedAt,
		}
	}
}

// settle publishes st unless a sign-out or rejection happened while it was
// being computed, in which case the newer state wins.
func (s *Service) settle(epoch uint64, st RoleState) RoleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch && st.Status != StatusInvalid {
		s.logger.Debug("discarding stale role state", slog.String("status", string(st.Status)))
		return s.state
	}
	if st.Status == StatusInvalid {
		s.epoch++
	}
	s.state = st
	return st
}

func (s *Service) currentEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// CanAccessTab applies the access table to the current role. Anything other
// than a resolved role is denied.
func (s *Service) CanAccessTab(tab string) bool {
	st := s.State()
	if st.Status != StatusResolved {
		return false
	}
	return CanAccess(st.Role, tab)
}

// Navigation lists the side-panel entries for the current role.
func (s *Service) Navigation() []NavItem {
	st := s.State()
	if st.Status != StatusResolved {
		return []NavItem{}
	}
	return NavigationFor(st.Role)
}

// Subscribe registers for session lifecycle events such as "session invalid,
// redirect to sign-in".
func (s *Service) Subscribe() (<-chan session.Event, func()) {
	return s.events.Subscribe()
}

// SignOut drops the current role and session. Local state is cleared even
// when the provider cannot be reached; that failure is returned.
func (s *Service) SignOut(ctx context.Context) error {
	s.mu.Lock()
	s.epoch++
	s.state = RoleState{Status: StatusAnonymous}
	s.mu.Unlock()
	return s.validator.SignOut(ctx)
}
