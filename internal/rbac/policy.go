// Package rbac decides which dashboard tabs a role may open and exposes the
// resolved role to HTTP handlers.
package rbac

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/memberdesk/memberdesk/internal/roles"
)

// Tab is a named dashboard area gated by role.
type Tab string

const (
	TabDashboard  Tab = "dashboard"
	TabUsers      Tab = "users"
	TabCollectors Tab = "collectors"
	TabAudit      Tab = "audit"
	TabSystem     Tab = "system"
	TabFinancials Tab = "financials"
)

var tabsByRole = map[roles.Role][]Tab{
	roles.Admin:     {TabDashboard, TabUsers, TabCollectors, TabAudit, TabSystem, TabFinancials},
	roles.Collector: {TabDashboard, TabUsers},
	roles.Member:    {TabDashboard},
}

// NavItem is one side-panel entry.
type NavItem struct {
	Tab   Tab    `json:"tab"`
	Label string `json:"label"`
}

var navigation = []NavItem{
	{Tab: TabDashboard, Label: "Overview"},
	{Tab: TabUsers, Label: "Members"},
	{Tab: TabCollectors, Label: "Collectors"},
	{Tab: TabFinancials, Label: "Financials"},
	{Tab: TabAudit, Label: "Audit Logs"},
	{Tab: TabSystem, Label: "System"},
}

// ParseTab normalises a tab name. Unknown names yield false.
func ParseTab(name string) (Tab, bool) {
	folded := Tab(cases.Fold().String(strings.TrimSpace(name)))
	for _, item := range navigation {
		if item.Tab == folded {
			return folded, true
		}
	}
	return "", false
}

// CanAccess reports whether role may open tab. It is a pure lookup: unknown
// tabs and unresolved roles are always denied.
func CanAccess(role roles.Role, tab string) bool {
	t, ok := ParseTab(tab)
	if !ok {
		return false
	}
	for _, allowed := range tabsByRole[role] {
		if allowed == t {
			return true
		}
	}
	return false
}

// NavigationFor lists the side-panel entries role may see, in display order.
func NavigationFor(role roles.Role) []NavItem {
	items := make([]NavItem, 0, len(navigation))
	for _, item := range navigation {
		if CanAccess(role, string(item.Tab)) {
			items = append(items, item)
		}
	}
	return items
}
