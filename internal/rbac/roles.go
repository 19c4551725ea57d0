// Package rbac holds the static role and permission vocabulary and the
// Role→Permission table used when a user record carries no explicit
// permissions.
package rbac

import "slices"

// Role represents a built-in role name.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

// Permission names understood by the application.
const (
	ViewUsers      = "view_users"
	CreateUser     = "create_user"
	EditUser       = "edit_user"
	DeleteUser     = "delete_user"
	CreateQuestion = "create_question"
	EditQuestion   = "edit_question"
	DeleteQuestion = "delete_question"
	CreateAnswer   = "create_answer"
	EditAnswer     = "edit_answer"
	DeleteAnswer   = "delete_answer"
	ManageSystem   = "manage_system"
	ViewAnalytics  = "view_analytics"
)

var contentPermissions = []string{
	CreateQuestion, EditQuestion, DeleteQuestion,
	CreateAnswer, EditAnswer, DeleteAnswer,
}

var table = map[Role][]string{
	RoleAdmin: slices.Concat(
		[]string{ViewUsers, CreateUser, EditUser, DeleteUser},
		contentPermissions,
		[]string{ManageSystem, ViewAnalytics},
	),
	RoleModerator: slices.Concat([]string{ViewUsers}, contentPermissions),
	RoleUser:      slices.Clone(contentPermissions),
}

var labels = map[Role]string{
	RoleAdmin:     "Administrator",
	RoleModerator: "Moderator",
	RoleUser:      "User",
}

// PermissionsFor returns a copy of the permissions granted to role.
// Unknown roles get none.
func PermissionsFor(role string) []string {
	return slices.Clone(table[Role(role)])
}

// RoleGrants reports whether role's table entry contains permission.
func RoleGrants(role, permission string) bool {
	return slices.Contains(table[Role(role)], permission)
}

// Label returns the display label for a role, or the role itself.
func Label(role string) string {
	if l, ok := labels[Role(role)]; ok {
		return l
	}
	return role
}

// Roles lists the built-in roles in privilege order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleModerator, RoleUser}
}
