package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/memberdesk/memberdesk/internal/platform/db"
	"github.com/memberdesk/memberdesk/internal/retry"
)

var (
	// ErrResolutionFailed indicates a lookup stage could not answer within
	// its retry budget. It is never evidence that the principal has no role.
	ErrResolutionFailed = errors.New("roles: resolution failed")
	// ErrNoPrincipal is returned when Resolve is called without a principal.
	ErrNoPrincipal = errors.New("roles: principal required")
)

// AssignmentSource lists the role assignment rows of a principal. An empty
// slice is an authoritative answer.
type AssignmentSource interface {
	ListRoles(ctx context.Context, principalID string) ([]Role, error)
}

// Directory looks up collector and member records. A nil record with a nil
// error means the record does not exist.
type Directory interface {
	FindCollector(ctx context.Context, memberNumber string) (*CollectorRecord, error)
	FindMember(ctx context.Context, principalID string) (*MemberRecord, error)
}

// Observer receives resolution telemetry. A nil Observer is ignored.
type Observer interface {
	ObserveRoleResolution(stage, outcome string)
	ObserveRetry(operation string)
}

// Resolver determines a principal's role through a prioritized chain of
// sources: the cache, role assignments, the collector directory, the member
// directory, and finally the member default.
type Resolver struct {
	cache       *Cache
	assignments AssignmentSource
	directory   Directory
	policy      retry.Policy
	logger      *slog.Logger
	observer    Observer
	now         func() time.Time
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithObserver attaches a telemetry observer.
func WithObserver(o Observer) ResolverOption {
	return func(r *Resolver) { r.observer = o }
}

// WithClock overrides the time source stamped on resolutions.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver wires a Resolver. Every lookup error is treated as transient
// and retried under policy; the policy's own Retryable is ignored.
func NewResolver(cache *Cache, assignments AssignmentSource, directory Directory, policy retry.Policy, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		cache:       cache,
		assignments: assignments,
		directory:   directory,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	policy.Retryable = nil
	r.policy = policy
	return r
}

type stageFunc func(ctx context.Context, p Principal) StageResult

// Resolve returns the role of p. On success the role is always valid; a
// principal no source knows about resolves to Member with StageDefault.
func (r *Resolver) Resolve(ctx context.Context, p Principal) (Resolution, error) {
	if p.ID == "" {
		return Resolution{}, ErrNoPrincipal
	}
	if entry, ok := r.cache.Lookup(p.ID); ok {
		r.observe(StageCache, Found)
		return Resolution{Role: entry.Role, Stage: StageCache, ResolvedAt: entry.ResolvedAt}, nil
	}

	generation := r.cache.Generation()
	chain := []struct {
		stage Stage
		run   stageFunc
	}{
		{StageAssignment, r.lookupAssignments},
		{StageCollectorRecord, r.lookupCollector},
		{StageMemberRecord, r.lookupMember},
	}

	for _, step := range chain {
		res := step.run(ctx, p)
		r.observe(step.stage, res.Kind)
		switch res.Kind {
		case Found:
			r.logger.Info("role resolved", slog.String("principal", p.ID), slog.String("stage", string(step.stage)), slog.String("role", res.Role.String()))
			return r.publish(generation, p.ID, res.Role, step.stage), nil
		case TransportError:
			r.logger.Error("role resolution failed", slog.String("principal", p.ID), slog.String("stage", string(step.stage)), slog.Int("attempts", retry.Attempts(res.Err)), slog.Any("error", res.Err))
			return Resolution{}, fmt.Errorf("%w: %s: %w", ErrResolutionFailed, step.stage, res.Err)
		default:
			r.logger.Debug("role stage empty", slog.String("principal", p.ID), slog.String("stage", string(step.stage)))
		}
	}

	r.observe(StageDefault, Found)
	r.logger.Info("no role source matched, defaulting", slog.String("principal", p.ID), slog.String("stage", string(StageDefault)), slog.String("role", Member.String()))
	return r.publish(generation, p.ID, Member, StageDefault), nil
}

// Generation returns the cache generation. Resolutions started under
// different generations must not share results.
func (r *Resolver) Generation() uint64 {
	return r.cache.Generation()
}

func (r *Resolver) publish(generation uint64, principalID string, role Role, stage Stage) Resolution {
	if !r.cache.PutIfCurrent(generation, principalID, role) {
		r.logger.Debug("discarding role for superseded principal", slog.String("principal", principalID), slog.String("stage", string(stage)))
	}
	return Resolution{Role: role, Stage: stage, ResolvedAt: r.now()}
}

func (r *Resolver) lookupAssignments(ctx context.Context, p Principal) StageResult {
	assigned, err := retry.Do(ctx, r.stagePolicy(StageAssignment), func(ctx context.Context) ([]Role, error) {
		return r.assignments.ListRoles(ctx, p.ID)
	})
	if err != nil {
		return failed(err)
	}
	for _, role := range assigned {
		if !role.Valid() {
			r.logger.Warn("ignoring unknown role assignment", slog.String("principal", p.ID), slog.String("role", string(role)))
		}
	}
	if best := Highest(assigned); best.Valid() {
		return found(best)
	}
	return absent()
}

func (r *Resolver) lookupCollector(ctx context.Context, p Principal) StageResult {
	if p.MemberNumber == "" {
		return absent()
	}
	rec, err := retry.Do(ctx, r.stagePolicy(StageCollectorRecord), func(ctx context.Context) (*CollectorRecord, error) {
		return r.directory.FindCollector(ctx, p.MemberNumber)
	})
	if err != nil {
		return failed(err)
	}
	if rec == nil {
		return absent()
	}
	return found(Collector)
}

func (r *Resolver) lookupMember(ctx context.Context, p Principal) StageResult {
	rec, err := retry.Do(ctx, r.stagePolicy(StageMemberRecord), func(ctx context.Context) (*MemberRecord, error) {
		return r.directory.FindMember(ctx, p.ID)
	})
	if err != nil {
		return failed(err)
	}
	if rec == nil {
		return absent()
	}
	return found(Member)
}

func (r *Resolver) stagePolicy(stage Stage) retry.Policy {
	p := r.policy
	prevHook := p.OnRetry
	p.OnRetry = func(attempt int, err error) {
		r.logger.Warn("role lookup attempt failed",
			slog.String("stage", string(stage)),
			slog.Int("attempt", attempt),
			slog.Bool("transient", db.IsTransient(err)),
			slog.Any("error", err))
		if r.observer != nil {
			r.observer.ObserveRetry(string(stage))
		}
		if prevHook != nil {
			prevHook(attempt, err)
		}
	}
	return p
}

func (r *Resolver) observe(stage Stage, kind ResultKind) {
	if r.observer != nil {
		r.observer.ObserveRoleResolution(string(stage), kind.String())
	}
}
