package rbac

import (
	"sort"
	"strings"
)

// Role is one of the fixed account roles
type Role string

const (
	RoleGuest      Role = "guest"
	RoleStudent    Role = "student"
	RoleTeacher    Role = "teacher"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// DefaultRole is assigned to self-registered accounts
const DefaultRole = RoleGuest

// Permission is an atomic capability tag
type Permission string

const (
	// User management
	PermCreateUser  Permission = "create_user"
	PermReadUser    Permission = "read_user"
	PermUpdateUser  Permission = "update_user"
	PermDeleteUser  Permission = "delete_user"
	PermManageRoles Permission = "manage_roles"
	PermInviteUsers Permission = "invite_users"

	// Content management
	PermCreateCourse Permission = "create_course"
	PermReadCourse   Permission = "read_course"
	PermUpdateCourse Permission = "update_course"
	PermDeleteCourse Permission = "delete_course"

	// Academic operations
	PermGradeAssignments  Permission = "grade_assignments"
	PermViewGrades        Permission = "view_grades"
	PermSubmitAssignments Permission = "submit_assignments"

	// System administration
	PermAccessAdminPanel     Permission = "access_admin_panel"
	PermViewAnalytics        Permission = "view_analytics"
	PermManageSystemSettings Permission = "manage_system_settings"

	// Communication
	PermSendAnnouncements Permission = "send_announcements"
	PermAccessMessaging   Permission = "access_messaging"
)

// allRoles is ordered by rank, lowest first
var allRoles = []Role{
	RoleGuest,
	RoleStudent,
	RoleTeacher,
	RoleModerator,
	RoleAdmin,
	RoleSuperAdmin,
}

var allPermissions = []Permission{
	PermCreateUser,
	PermReadUser,
	PermUpdateUser,
	PermDeleteUser,
	PermManageRoles,
	PermInviteUsers,
	PermCreateCourse,
	PermReadCourse,
	PermUpdateCourse,
	PermDeleteCourse,
	PermGradeAssignments,
	PermViewGrades,
	PermSubmitAssignments,
	PermAccessAdminPanel,
	PermViewAnalytics,
	PermManageSystemSettings,
	PermSendAnnouncements,
	PermAccessMessaging,
}

// Tables below are filled once by init and only read afterwards.
var (
	rolePermissions map[Role]map[Permission]struct{}
	roleRank        map[Role]int
	invitable       map[Role][]Role
)

func init() {
	grants := map[Role][]Permission{
		RoleSuperAdmin: allPermissions,
		RoleAdmin: {
			PermCreateUser, PermReadUser, PermUpdateUser, PermDeleteUser,
			PermManageRoles, PermInviteUsers,
			PermCreateCourse, PermReadCourse, PermUpdateCourse, PermDeleteCourse,
			PermAccessAdminPanel, PermViewAnalytics,
			PermSendAnnouncements, PermAccessMessaging, PermViewGrades,
		},
		RoleModerator: {
			PermReadUser, PermUpdateUser,
			PermReadCourse, PermUpdateCourse,
			PermAccessAdminPanel,
			PermSendAnnouncements, PermAccessMessaging, PermViewGrades,
		},
		RoleTeacher: {
			PermReadUser,
			PermCreateCourse, PermReadCourse, PermUpdateCourse,
			PermGradeAssignments, PermViewGrades,
			PermSendAnnouncements, PermAccessMessaging,
		},
		RoleStudent: {
			PermReadCourse, PermSubmitAssignments, PermViewGrades, PermAccessMessaging,
		},
		RoleGuest: {PermReadCourse},
	}

	rolePermissions = make(map[Role]map[Permission]struct{}, len(grants))
	for role, perms := range grants {
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		rolePermissions[role] = set
	}

	roleRank = make(map[Role]int, len(allRoles))
	for i, role := range allRoles {
		roleRank[role] = i
	}

	// Explicit allow-list; admin cannot mint admins even though rank would allow
	// a future role at the same level.
	invitable = map[Role][]Role{
		RoleSuperAdmin: {RoleSuperAdmin, RoleAdmin, RoleModerator, RoleTeacher, RoleStudent, RoleGuest},
		RoleAdmin:      {RoleModerator, RoleTeacher, RoleStudent, RoleGuest},
	}
}

// AllRoles returns every role ordered by rank, lowest first
func AllRoles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// AllPermissions returns every permission tag in declaration order
func AllPermissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions)
	return out
}

// ParseRole validates a role name
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := roleRank[r]
	return r, ok
}

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// String implements fmt.Stringer
func (r Role) String() string {
	return string(r)
}

// DisplayName renders "super_admin" as "Super Admin"
func (r Role) DisplayName() string {
	words := strings.Split(string(r), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// PermissionsOf returns the sorted permission set of a role.
// Unknown roles have no permissions.
func PermissionsOf(role Role) []Permission {
	set := rolePermissions[role]
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RoleNames converts roles to their string form, for JSON bodies
func RoleNames(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
