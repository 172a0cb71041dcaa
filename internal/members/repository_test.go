package members

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memberdesk/memberdesk/internal/platform/db/dbtest"
)

func TestFindCollector(t *testing.T) {
	q := dbtest.NewQuerier(dbtest.Result{Rows: [][]any{{"c-1", "Jane Collector", "M-001"}}})
	repo := NewRepository(q)

	rec, err := repo.FindCollector(context.Background(), "M-001")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "c-1", rec.ID)
	assert.Equal(t, "Jane Collector", rec.Name)
	assert.Equal(t, "M-001", rec.MemberNumber)

	calls := q.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, findCollectorSQL, calls[0].SQL)
	assert.Equal(t, []any{"M-001"}, calls[0].Args)
}

func TestFindCollectorAbsentIsNotAnError(t *testing.T) {
	repo := NewRepository(dbtest.NewQuerier(dbtest.Result{}))

	rec, err := repo.FindCollector(context.Background(), "M-404")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFindMember(t *testing.T) {
	repo := NewRepository(dbtest.NewQuerier(dbtest.Result{Rows: [][]any{{"m-7", "alice"}}}))

	rec, err := repo.FindMember(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "m-7", rec.ID)
	assert.Equal(t, "alice", rec.AuthUserID)
}

func TestFindMemberPropagatesTransportErrors(t *testing.T) {
	boom := errors.New("connection reset by peer")
	repo := NewRepository(dbtest.NewQuerier(dbtest.Result{Err: boom}))

	rec, err := repo.FindMember(context.Background(), "alice")
	require.ErrorIs(t, err, boom)
	assert.Nil(t, rec)

	_, err = repo.FindCollector(context.Background(), "M-001")
	require.ErrorIs(t, err, boom)
}
