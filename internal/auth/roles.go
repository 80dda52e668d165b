package auth

// Role is the caller's privilege level.
type Role string

const (
	// RoleViewer may read UPS status and list units.
	RoleViewer Role = "viewer"
	// RoleOperator may also drive the job-control script hooks.
	RoleOperator Role = "operator"
	// RoleAdmin may also change settings.
	RoleAdmin Role = "admin"
)

// NormalizeRole validates a role string.
func NormalizeRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleViewer, RoleOperator, RoleAdmin:
		return Role(value), true
	default:
		return "", false
	}
}

// RoleAtLeast returns true when role satisfies required.
func RoleAtLeast(role Role, required Role) bool {
	return roleRank(role) >= roleRank(required)
}

func roleRank(role Role) int {
	switch role {
	case RoleViewer:
		return 1
	case RoleOperator:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}
