package roles

import (
	"context"
	"fmt"

	"github.com/memberdesk/memberdesk/internal/platform/db"
)

const listRolesSQL = `SELECT role::text FROM user_roles WHERE user_id = $1`

// PGAssignmentRepository reads role assignment rows from PostgreSQL.
type PGAssignmentRepository struct {
	db db.Querier
}

// NewAssignmentRepository constructs a repository over q.
func NewAssignmentRepository(q db.Querier) *PGAssignmentRepository {
	return &PGAssignmentRepository{db: q}
}

// ListRoles returns every role assigned to principalID. Names the dashboard
// does not know are returned verbatim so the resolver can report them.
func (r *PGAssignmentRepository) ListRoles(ctx context.Context, principalID string) ([]Role, error) {
	rows, err := r.db.Query(ctx, listRolesSQL, principalID)
	if err != nil {
		return nil, fmt.Errorf("roles: list assignments: %w", err)
	}
	defer rows.Close()
	var assigned []Role
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("roles: scan assignment: %w", err)
		}
		if role, ok := Parse(name); ok {
			assigned = append(assigned, role)
			continue
		}
		assigned = append(assigned, Role(name))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roles: list assignments: %w", err)
	}
	return assigned, nil
}

var _ AssignmentSource = (*PGAssignmentRepository)(nil)
