package rbac

// HasPermission reports whether role grants permission
func HasPermission(role Role, permission Permission) bool {
	_, ok := rolePermissions[role][permission]
	return ok
}

// HasAnyPermission reports whether role grants at least one of permissions
func HasAnyPermission(role Role, permissions ...Permission) bool {
	for _, p := range permissions {
		if HasPermission(role, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether role grants every one of permissions
func HasAllPermissions(role Role, permissions ...Permission) bool {
	for _, p := range permissions {
		if !HasPermission(role, p) {
			return false
		}
	}
	return true
}

// RankOf returns the hierarchy rank of role, or -1 if unknown
func RankOf(role Role) int {
	rank, ok := roleRank[role]
	if !ok {
		return -1
	}
	return rank
}

// IsHigherRole reports rank(a) > rank(b)
func IsHigherRole(a, b Role) bool {
	return RankOf(a) > RankOf(b)
}

// IsHigherOrEqual reports rank(a) >= rank(b)
func IsHigherOrEqual(a, b Role) bool {
	return RankOf(a) >= RankOf(b)
}

// IsAdminRole reports whether role is admin or super_admin
func IsAdminRole(role Role) bool {
	return role == RoleSuperAdmin || role == RoleAdmin
}

// IsStaffRole reports whether role is teacher or above
func IsStaffRole(role Role) bool {
	switch role {
	case RoleSuperAdmin, RoleAdmin, RoleModerator, RoleTeacher:
		return true
	}
	return false
}

// InvitableRoles returns the roles issuer may assign through an invitation.
// The result is a copy and empty for roles that cannot invite.
func InvitableRoles(issuer Role) []Role {
	roles := invitable[issuer]
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// CanInviteRole reports whether issuer may invite someone as target
func CanInviteRole(issuer, target Role) bool {
	for _, r := range invitable[issuer] {
		if r == target {
			return true
		}
	}
	return false
}

// CanModifyUser reports whether actor may change an account holding target.
// super_admin may modify anyone; admin may modify non-admin accounts.
func CanModifyUser(actor, target Role) bool {
	switch actor {
	case RoleSuperAdmin:
		return true
	case RoleAdmin:
		return target != RoleSuperAdmin && target != RoleAdmin
	default:
		return false
	}
}
