package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleUser requests verification calls.
	RoleUser = "user"
	// RoleAdmin answers verification calls and records KYC decisions.
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsResponder reports whether the role may pick up and decide calls.
func IsResponder(role string) bool { return Allows(role, RoleAdmin) }

func Valid(role string) bool {
	switch role {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Allows reports whether role is one of allowed. super_admin is always allowed;
// unknown roles never are, even when listed.
func Allows(role string, allowed ...string) bool {
	if !Valid(role) {
		return false
	}
	if IsSuperAdmin(role) {
		return true
	}
	for _, a := range allowed {
		if a == role {
			return true
		}
	}
	return false
}
