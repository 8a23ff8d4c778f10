package constants

// Roles
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleSalesRep = "sales_rep"
	RoleReadOnly = "read_only"
)

// Roles lists every assignable role.
var Roles = []string{RoleAdmin, RoleManager, RoleSalesRep, RoleReadOnly}

func IsValidRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Object permissions
const (
	PermissionRead   = "read"
	PermissionCreate = "create"
	PermissionUpdate = "update"
	PermissionDelete = "delete"
)
