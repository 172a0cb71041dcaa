// Package members reads the collector and member directories of the hosted
// database.
package members

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/memberdesk/memberdesk/internal/platform/db"
	"github.com/memberdesk/memberdesk/internal/roles"
)

const (
	findCollectorSQL = `SELECT id::text, name, member_number FROM members_collectors WHERE member_number = $1 LIMIT 1`
	findMemberSQL    = `SELECT id::text, auth_user_id::text FROM members WHERE auth_user_id = $1 LIMIT 1`
)

// Repository provides PostgreSQL backed directory lookups.
type Repository struct {
	db db.Querier
}

// NewRepository constructs a repository.
func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

// FindCollector returns the collector keyed by memberNumber, or nil when
// there is none.
func (r *Repository) FindCollector(ctx context.Context, memberNumber string) (*roles.CollectorRecord, error) {
	var rec roles.CollectorRecord
	err := r.db.QueryRow(ctx, findCollectorSQL, memberNumber).Scan(&rec.ID, &rec.Name, &rec.MemberNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("members: find collector: %w", err)
	}
	return &rec, nil
}

// FindMember returns the member linked to the auth principal, or nil when
// there is none.
func (r *Repository) FindMember(ctx context.Context, principalID string) (*roles.MemberRecord, error) {
	var rec roles.MemberRecord
	err := r.db.QueryRow(ctx, findMemberSQL, principalID).Scan(&rec.ID, &rec.AuthUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("members: find member: %w", err)
	}
	return &rec, nil
}

var _ roles.Directory = (*Repository)(nil)
