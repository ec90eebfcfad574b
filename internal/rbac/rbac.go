package rbac

type Role string
type Action string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
	RoleAdmin    Role = "admin"
)

const (
	ActionConverse       Action = "converse"
	ActionTriage         Action = "triage"
	ActionManageWebhooks Action = "manage_webhooks"
	ActionManageUsers    Action = "manage_users"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleAgent:
		return action == ActionConverse || action == ActionTriage
	case RoleCustomer:
		return action == ActionConverse
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleCustomer, RoleAgent, RoleAdmin:
		return Role(role)
	default:
		return RoleCustomer
	}
}

// Valid reports whether role names a known role.
func Valid(role string) bool {
	switch Role(role) {
	case RoleCustomer, RoleAgent, RoleAdmin:
		return true
	}
	return false
}
