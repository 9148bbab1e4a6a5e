package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionRender  Action = "render"
	ActionEdit    Action = "edit"
	ActionPublish Action = "publish"
	ActionDelete  Action = "delete"
)

// Can reports whether role may perform action on templates. Editors draft
// and publish; only admins remove versions.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionRender || action == ActionEdit || action == ActionPublish
	case RoleViewer:
		return action == ActionRead || action == ActionRender
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
