package roles

import (
	"strings"
	"time"
)

// Role is the closed set of dashboard roles.
type Role string

const (
	// None is the absence of a resolved role.
	None      Role = ""
	Member    Role = "member"
	Collector Role = "collector"
	Admin     Role = "admin"
)

// Parse maps a stored role name onto a Role. Unknown names yield false.
func Parse(name string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(name))) {
	case Admin:
		return Admin, true
	case Collector:
		return Collector, true
	case Member:
		return Member, true
	default:
		return None, false
	}
}

// Rank orders roles by privilege. None ranks lowest.
func (r Role) Rank() int {
	switch r {
	case Admin:
		return 3
	case Collector:
		return 2
	case Member:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is a resolved role.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

func (r Role) String() string {
	if r == None {
		return "none"
	}
	return string(r)
}

// Highest returns the most privileged role in rs, or None when rs is empty.
func Highest(rs []Role) Role {
	best := None
	for _, r := range rs {
		if r.Rank() > best.Rank() {
			best = r
		}
	}
	return best
}

// Principal is the identity a role is resolved for.
type Principal struct {
	ID           string
	MemberNumber string
}

// CollectorRecord is a collector directory record.
type CollectorRecord struct {
	ID           string
	Name         string
	MemberNumber string
}

// MemberRecord is a member directory record.
type MemberRecord struct {
	ID         string
	AuthUserID string
}

// Resolution is the outcome of a successful Resolve call.
type Resolution struct {
	Role       Role
	Stage      Stage
	ResolvedAt time.Time
}
