package auth

import "strings"

// Role is the access level carried in the token's role claim.
type Role string

const (
	// RoleViewer reads equipment, alarm state, history and reports.
	RoleViewer Role = "viewer"
	// RoleOperator additionally tunes rule thresholds and pushes point samples.
	RoleOperator Role = "operator"
	// RoleAdmin additionally registers and removes equipment.
	RoleAdmin Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole maps a claim such as " Operator " to its Role.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role grants required. Unknown roles grant nothing.
func RoleAtLeast(role Role, required Role) bool {
	rank, ok := roleRanks[role]
	return ok && rank >= roleRanks[required]
}
