package roles

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memberdesk/memberdesk/internal/retry"
)

var errTransport = errors.New("upstream timeout")

// mockAssignments serves role assignment rows with optional injected failures.
type mockAssignments struct {
	mu       sync.Mutex
	roles    map[string][]Role
	failures int
	err      error
	calls    int
	onCall   func()
}

func (m *mockAssignments) ListRoles(ctx context.Context, principalID string) ([]Role, error) {
	m.mu.Lock()
	m.calls++
	hook := m.onCall
	fail := m.failures > 0
	if fail {
		m.failures--
	}
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail {
		return nil, m.err
	}
	return m.roles[principalID], nil
}

func (m *mockAssignments) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockDirectory serves collector and member records.
type mockDirectory struct {
	collectors     map[string]*CollectorRecord
	members        map[string]*MemberRecord
	collectorErr   error
	memberErr      error
	collectorCalls int
	memberCalls    int
}

func (m *mockDirectory) FindCollector(ctx context.Context, memberNumber string) (*CollectorRecord, error) {
	m.collectorCalls++
	if m.collectorErr != nil {
		return nil, m.collectorErr
	}
	return m.collectors[memberNumber], nil
}

func (m *mockDirectory) FindMember(ctx context.Context, principalID string) (*MemberRecord, error) {
	m.memberCalls++
	if m.memberErr != nil {
		return nil, m.memberErr
	}
	return m.members[principalID], nil
}

type recordedResolution struct{ stage, outcome string }

type mockObserver struct {
	mu          sync.Mutex
	resolutions []recordedResolution
	retries     map[string]int
}

func (m *mockObserver) ObserveRoleResolution(stage, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions = append(m.resolutions, recordedResolution{stage, outcome})
}

func (m *mockObserver) ObserveRetry(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retries == nil {
		m.retries = map[string]int{}
	}
	m.retries[operation]++
}

const maxAttempts = 3

type resolverFixture struct {
	cache       *Cache
	assignments *mockAssignments
	directory   *mockDirectory
	observer    *mockObserver
	resolver    *Resolver
}

func newResolverFixture(principalID string) *resolverFixture {
	f := &resolverFixture{
		cache:       NewCache(16, DefaultCacheTTL),
		assignments: &mockAssignments{roles: map[string][]Role{}, err: errTransport},
		directory:   &mockDirectory{collectors: map[string]*CollectorRecord{}, members: map[string]*MemberRecord{}},
		observer:    &mockObserver{},
	}
	f.cache.Bind(principalID)
	policy := retry.Policy{MaxAttempts: maxAttempts, Delay: time.Millisecond}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.resolver = NewResolver(f.cache, f.assignments, f.directory, policy, logger, WithObserver(f.observer))
	return f
}

func TestResolveHighestPrivilegeWins(t *testing.T) {
	f := newResolverFixture("p1")
	f.assignments.roles["p1"] = []Role{Collector, Admin, Member}

	res, err := f.resolver.Resolve(context.Background(), Principal{ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, Admin, res.Role)
	assert.Equal(t, StageAssignment, res.Stage)
	assert.Equal(t, 0, f.directory.collectorCalls)
	assert.Equal(t, 0, f.directory.memberCalls)
}

func TestResolveCollectorRecordWhenNoAssignments(t *testing.T) {
	f := newResolverFixture("p2")
	f.directory.collectors["M-002"] = &CollectorRecord{ID: "c", MemberNumber: "M-002"}

	res, err := f.resolver.Resolve(context.Background(), Principal{ID: "p2", MemberNumber: "M-002"})
	require.NoError(t, err)
	assert.Equal(t, Collector, res.Role)
	assert.Equal(t, StageCollectorRecord, res.Stage)
	assert.Equal(t, 0, f.directory.memberCalls)
}

func TestResolveMemberRecord(t *testing.T) {
	f := newResolverFixture("p3")
	f.directory.members["p3"] = &MemberRecord{ID: "m", AuthUserID: "p3"}

	res, err := f.resolver.Resolve(context.Background(), Principal{ID: "p3", MemberNumber: "M-003"})
	require.NoError(t, err)
	assert.Equal(t, Member, res.Role)
	assert.Equal(t, StageMemberRecord, res.Stage)
	assert.Equal(t, 1, f.directory.collectorCalls)
}

func TestResolveDefaultIsDistinguishable(t *testing.T) {
	f := newResolverFixture("p4")

	res, err := f.resolver.Resolve(context.Background(), Principal{ID: "p4"})
	require.NoError(t, err)
	assert.Equal(t, Member, res.Role)
	assert.Equal(t, StageDefault, res.Stage)
	assert.Contains(t, f.observer.resolutions, recordedResolution{string(StageDefault), "found"})
	assert.NotContains(t, f.observer.resolutions, recordedResolution{string(StageMemberRecord), "found"})

	// Without a member number the collector directory is not consulted.
	assert.Equal(t, 0, f.directory.collectorCalls)
	assert.Equal(t, 1, f.directory.memberCalls)
}

func TestResolveMemberAssignmentStopsAtAssignmentStage(t *testing.T) {
	f := newResolverFixture("p5")
	f.assignments.roles["p5"] = []Role{Member}

	res, err := f.resolver.Resolve(context.Background(), Principal{ID: "p5"})
	require.NoError(t, err)
	assert.Equal(t, Member, res.Role)
	assert.Equal(t, StageAssignment, res.Stage)
	assert.Equal(t, 0, f.directory.memberCalls)
}

func TestResolveUnknownAssignmentsFallThrough(t *testing.T) {
	f := newResolverFixture("p6")
	f.assignments.roles["p6"] = []Role{Role("treasurer")}
	f.directory.members["p6"] = &MemberRecord{ID: "m6"}

	res, err := f.resolver.Resolve(context.Background(), Principal{ID: "p6"})
	require.NoError(t, err)
	assert.Equal(t, StageMemberRecord, res.Stage)
}

func TestResolveIsCachedWithinTTL(t *testing.T) {
	f := newResolverFixture("p7")
	f.assignments.roles["p7"] = []Role{Collector}

	first, err := f.resolver.Resolve(context.Background(), Principal{ID: "p7"})
	require.NoError(t, err)
	second, err := f.resolver.Resolve(context.Background(), Principal{ID: "p7"})
	require.NoError(t, err)

	assert.Equal(t, first.Role, second.Role)
	assert.Equal(t, StageCache, second.Stage)
	assert.Equal(t, 1, f.assignments.Calls())
}

func TestResolveCacheHitReportsOriginalResolutionTime(t *testing.T) {
	resolvedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := resolvedAt
	cache := NewCache(4, DefaultCacheTTL, WithCacheClock(func() time.Time { return now }))
	cache.Bind("p7")
	assignments := &mockAssignments{roles: map[string][]Role{"p7": {Collector}}}
	resolver := NewResolver(cache, assignments, &mockDirectory{}, retry.Policy{MaxAttempts: 1}, nil,
		WithClock(func() time.Time { return now }))

	_, err := resolver.Resolve(context.Background(), Principal{ID: "p7"})
	require.NoError(t, err)

	now = resolvedAt.Add(2 * time.Minute)
	hit, err := resolver.Resolve(context.Background(), Principal{ID: "p7"})
	require.NoError(t, err)
	assert.Equal(t, StageCache, hit.Stage)
	assert.True(t, hit.ResolvedAt.Equal(resolvedAt), "got %s", hit.ResolvedAt)
}

func TestResolveAfterInvalidationPerformsFreshLookup(t *testing.T) {
	f := newResolverFixture("p8")
	f.assignments.roles["p8"] = []Role{Admin}

	_, err := f.resolver.Resolve(context.Background(), Principal{ID: "p8"})
	require.NoError(t, err)

	f.cache.InvalidateAll()
	res, err := f.resolver.Resolve(context.Background(), Principal{ID: "p8"})
	require.NoError(t, err)
	assert.Equal(t, StageAssignment, res.Stage)
	assert.Equal(t, 2, f.assignments.Calls())

	f.cache.Bind("p9")
	f.assignments.roles["p9"] = []Role{Member}
	res, err = f.resolver.Resolve(context.Background(), Principal{ID: "p9"})
	require.NoError(t, err)
	assert.Equal(t, StageAssignment, res.Stage)
	assert.Equal(t, Member, res.Role)
	assert.Equal(t, 3, f.assignments.Calls())
}

func TestResolveRetriesUpToBound(t *testing.T) {
	f := newResolverFixture("p10")
	f.assignments.roles["p10"] = []Role{Collector}
	f.assignments.failures = maxAttempts - 1

	res, err := f.resolver.Resolve(context.Background(), Principal{ID: "p10"})
	require.NoError(t, err)
	assert.Equal(t, Collector, res.Role)
	assert.Equal(t, maxAttempts, f.assignments.Calls())
	assert.Equal(t, maxAttempts-1, f.observer.retries[string(StageAssignment)])
}

func TestResolveFailsAfterExhaustingRetries(t *testing.T) {
	f := newResolverFixture("p11")
	f.assignments.failures = maxAttempts
	f.directory.members["p11"] = &MemberRecord{ID: "m11"}

	_, err := f.resolver.Resolve(context.Background(), Principal{ID: "p11"})
	require.ErrorIs(t, err, ErrResolutionFailed)
	assert.ErrorIs(t, err, errTransport)
	assert.Equal(t, maxAttempts, f.assignments.Calls())

	// A transport failure is not evidence of absence.
	assert.Equal(t, 0, f.directory.memberCalls)
	_, ok := f.cache.Get("p11")
	assert.False(t, ok)
}

func TestResolveDirectoryFailureAborts(t *testing.T) {
	f := newResolverFixture("p12")
	f.directory.collectorErr = errTransport

	_, err := f.resolver.Resolve(context.Background(), Principal{ID: "p12", MemberNumber: "M-012"})
	require.ErrorIs(t, err, ErrResolutionFailed)
	assert.Equal(t, maxAttempts, f.directory.collectorCalls)
	assert.Equal(t, 0, f.directory.memberCalls)
}

func TestResolveDiscardsResultAfterConcurrentInvalidation(t *testing.T) {
	f := newResolverFixture("p13")
	f.assignments.roles["p13"] = []Role{Admin}
	f.assignments.onCall = func() { f.cache.InvalidateAll() }

	res, err := f.resolver.Resolve(context.Background(), Principal{ID: "p13"})
	require.NoError(t, err)
	assert.Equal(t, Admin, res.Role)

	_, ok := f.cache.Get("p13")
	assert.False(t, ok, "a resolution that raced an invalidation must not be cached")
}

func TestResolveDiscardsResultAfterPrincipalChange(t *testing.T) {
	f := newResolverFixture("p14")
	f.assignments.roles["p14"] = []Role{Admin}
	f.assignments.onCall = func() { f.cache.Bind("someone-else") }

	_, err := f.resolver.Resolve(context.Background(), Principal{ID: "p14"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.cache.Len())
}

func TestResolveRequiresPrincipal(t *testing.T) {
	f := newResolverFixture("")
	_, err := f.resolver.Resolve(context.Background(), Principal{})
	require.ErrorIs(t, err, ErrNoPrincipal)
}
