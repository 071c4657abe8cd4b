// Package rbac maps member roles onto the actions they may perform.
package rbac

type Role string
type Action string

const (
	RoleSuspended Role = "suspended"
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionCreate  Action = "create"
	ActionRecount Action = "recount"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleModerator:
		return action == ActionRead || action == ActionCreate || action == ActionRecount
	case RoleMember:
		return action == ActionRead || action == ActionCreate
	case RoleSuspended:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown role names to the least privileged role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleSuspended, RoleMember, RoleModerator, RoleAdmin:
		return Role(role)
	default:
		return RoleSuspended
	}
}
