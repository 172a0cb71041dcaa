package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/memberdesk/memberdesk/internal/retry"
)

// RoleInvalidator is the slice of the role cache the validator drives.
type RoleInvalidator interface {
	InvalidateAll()
	Bind(principalID string)
}

// Outcome labels a validation result for telemetry.
type Outcome string

const (
	OutcomeValid       Outcome = "valid"
	OutcomeAnonymous   Outcome = "anonymous"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeUnavailable Outcome = "unavailable"
)

// Observer receives validation telemetry. A nil Observer is ignored.
type Observer interface {
	ObserveSessionValidation(outcome string)
	ObserveRetry(operation string)
}

// Validator confirms that the locally known session is still accepted by the
// identity provider.
type Validator struct {
	provider Provider
	store    *Store
	roles    RoleInvalidator
	events   *Broadcaster
	policy   retry.Policy
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// ValidatorOption customizes a Validator.
type ValidatorOption func(*Validator)

// WithObserver attaches a telemetry observer.
func WithObserver(o Observer) ValidatorOption {
	return func(v *Validator) { v.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator wires a Validator. Explicit rejections are never retried,
// whatever Retryable the supplied policy carries.
func NewValidator(provider Provider, store *Store, roles RoleInvalidator, events *Broadcaster, policy retry.Policy, logger *slog.Logger, opts ...ValidatorOption) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{
		provider: provider,
		store:    store,
		roles:    roles,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	policy.Retryable = isTransient
	prevHook := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		v.logger.Warn("session provider call failed, retrying",
			slog.Int("attempt", attempt), slog.Any("error", err))
		if v.observer != nil {
			v.observer.ObserveRetry("session")
		}
		if prevHook != nil {
			prevHook(attempt, err)
		}
	}
	v.policy = policy
	return v
}

func isTransient(err error) bool {
	return !errors.Is(err, ErrRejected)
}

// Validate returns the confirmed session, nil for an anonymous caller,
// ErrProviderUnavailable when the provider could not be reached, or
// ErrInvalid when the provider rejected the session.
func (v *Validator) Validate(ctx context.Context) (*Session, error) {
	sess, err := retry.Do(ctx, v.policy, v.provider.CurrentSession)
	if err != nil {
		return nil, v.fail(ctx, "", err)
	}
	if sess == nil {
		v.store.Clear()
		if v.roles != nil {
			v.roles.Bind("")
		}
		v.observe(OutcomeAnonymous)
		v.logger.Debug("no session present")
		return nil, nil
	}

	user, err := retry.Do(ctx, v.policy, func(ctx context.Context) (*User, error) {
		return v.provider.CurrentUser(ctx, sess.AccessToken)
	})
	if err != nil {
		return nil, v.fail(ctx, sess.PrincipalID, err)
	}
	if user == nil || user.ID != sess.PrincipalID {
		reported := ""
		if user != nil {
			reported = user.ID
		}
		mismatch := fmt.Errorf("%w: provider reported principal %q for session of %q", ErrRejected, reported, sess.PrincipalID)
		return nil, v.fail(ctx, sess.PrincipalID, mismatch)
	}

	confirmed := sess.Clone()
	if confirmed.Metadata == nil {
		confirmed.Metadata = make(map[string]string, len(user.Metadata))
	}
	for k, val := range user.Metadata {
		confirmed.Metadata[k] = val
	}

	previous := v.store.Publish(confirmed)
	if v.roles != nil {
		v.roles.Bind(confirmed.PrincipalID)
	}
	if previous != "" && previous != confirmed.PrincipalID {
		v.logger.Info("principal changed", slog.String("previous", previous), slog.String("principal", confirmed.PrincipalID))
	}
	v.observe(OutcomeValid)
	return confirmed, nil
}

func (v *Validator) fail(ctx context.Context, principalID string, err error) error {
	if errors.Is(err, ErrRejected) {
		v.invalidate(ctx, principalID, EventInvalid)
		v.observe(OutcomeInvalid)
		v.logger.Warn("session rejected", slog.String("principal", principalID), slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	v.observe(OutcomeUnavailable)
	v.logger.Error("session provider unavailable", slog.Int("attempts", retry.Attempts(err)), slog.Any("error", err))
	return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
}

// SignOut revokes the session and clears local state.
func (v *Validator) SignOut(ctx context.Context) error {
	principalID := v.store.PrincipalID()
	return v.invalidate(ctx, principalID, EventSignedOut)
}

// invalidate clears every piece of local state tied to the session before
// publishing the event, so listeners never observe a stale role.
func (v *Validator) invalidate(ctx context.Context, principalID string, kind EventKind) error {
	v.store.Clear()
	if v.roles != nil {
		v.roles.InvalidateAll()
	}
	err := v.provider.SignOut(ctx)
	if err != nil {
		v.logger.Warn("sign out", slog.String("principal", principalID), slog.Any("error", err))
	}
	if v.events != nil {
		ev := Event{Kind: kind, PrincipalID: principalID, At: v.now()}
		if kind == EventInvalid {
			ev.RedirectTo = SignInPath
			ev.Notice = ExpiredNotice
		}
		v.events.Publish(ev)
	}
	return err
}

func (v *Validator) observe(outcome Outcome) {
	if v.observer != nil {
		v.observer.ObserveSessionValidation(string(outcome))
	}
}
