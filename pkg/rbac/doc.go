// Package rbac holds the static role and permission model.
//
// # Roles
//
// Six roles are ordered by rank:
//
//	guest(0) < student(1) < teacher(2) < moderator(3) < admin(4) < super_admin(5)
//
// Each role maps to a fixed permission set. super_admin holds every permission.
// The tables are built once at package initialisation and never mutated.
//
// # Two separate authority checks
//
// Invitation authority is an explicit allow-list:
//
//	rbac.InvitableRoles(rbac.RoleAdmin)      // moderator, teacher, student, guest
//	rbac.CanInviteRole(rbac.RoleAdmin, rbac.RoleAdmin) // false
//
// Account modification is rank based:
//
//	rbac.CanModifyUser(rbac.RoleAdmin, rbac.RoleTeacher) // true
//
// HTTP enforcement lives in pkg/middleware (Authorizer).
package rbac
