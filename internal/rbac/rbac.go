package rbac

// Roles carried in the JWT.
const (
	RoleParty   = "party"
	RoleArbiter = "arbiter"
)

// Permissions checked by handlers.
const (
	PermCreateDeal     = "deal:create"
	PermActOnOwnDeal   = "deal:act"
	PermResolveDispute = "dispute:resolve"
)

var rolePermissions = map[string][]string{
	RoleParty:   {PermCreateDeal, PermActOnOwnDeal},
	RoleArbiter: {PermCreateDeal, PermActOnOwnDeal, PermResolveDispute},
}

func Can(role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}
