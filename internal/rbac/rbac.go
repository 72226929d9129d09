package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
)

const (
	// ActionRead covers listing progress, messages, search and exports.
	ActionRead Action = "read"
	// ActionComment covers posting, editing and deleting messages.
	ActionComment Action = "comment"
	// ActionTrack covers progress upserts.
	ActionTrack Action = "track"
	// ActionReset covers whole-workspace replacement: reset, import, restore.
	ActionReset Action = "reset"
	// ActionAdmin covers workspace key management.
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionComment || action == ActionTrack
	case RoleCommenter:
		return action == ActionRead || action == ActionComment
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Parse reports whether role names a known role.
func Parse(role string) (Role, bool) {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor, RoleAdmin:
		return Role(role), true
	default:
		return "", false
	}
}

func Normalize(role string) Role {
	if parsed, ok := Parse(role); ok {
		return parsed
	}
	return RoleViewer
}
