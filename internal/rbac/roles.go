package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleOperator places calls, speaks into them, listens and ends them.
	RoleOperator = "operator"
	// RoleSupervisor reads call state and listens, but cannot act on calls.
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

// DefaultRole is assigned to authenticated users without an explicit mapping.
const DefaultRole = RoleOperator

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsKnownRole(role string) bool {
	switch role {
	case RoleOperator, RoleSupervisor, RoleAdmin:
		return true
	default:
		return false
	}
}
