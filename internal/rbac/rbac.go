package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleAnnotator Role = "annotator"
	RoleManager   Role = "manager"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionEdit   Action = "edit"
	ActionManage Action = "manage"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return action == ActionRead || action == ActionEdit || action == ActionManage
	case RoleAnnotator:
		return action == ActionRead || action == ActionEdit
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleAnnotator, RoleManager, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
