package services

import (
	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
)

type permissionSet map[string]bool

var (
	allPermissions = permissionSet{
		constants.PermissionRead:   true,
		constants.PermissionCreate: true,
		constants.PermissionUpdate: true,
		constants.PermissionDelete: true,
	}
	readPermission = permissionSet{constants.PermissionRead: true}
)

// PermissionService maps roles to object permissions and record visibility.
//
// Evaluation order:
//  1. Object permission of the role on the entity
//  2. Record scope: sales reps only reach rows they own on owner-scoped
//     entities; rows out of scope behave as missing. Read-only users see
//     the whole tenant.
type PermissionService struct {
	registry *entity.Registry
}

func NewPermissionService(registry *entity.Registry) *PermissionService {
	return &PermissionService{registry: registry}
}

func (ps *PermissionService) permissions(user *auth.UserSession, def *entity.EntityDefinition) permissionSet {
	switch user.Role {
	case constants.RoleAdmin, constants.RoleManager:
		return allPermissions
	case constants.RoleSalesRep:
		// Tenant-wide entities stay read-only for reps.
		if def.OwnerScoped {
			return allPermissions
		}
		return readPermission
	case constants.RoleReadOnly:
		return readPermission
	}
	return nil
}

// Can reports whether user holds perm on def.
func (ps *PermissionService) Can(user *auth.UserSession, def *entity.EntityDefinition, perm string) bool {
	if user == nil {
		return false
	}
	return ps.permissions(user, def)[perm]
}

// Require returns a PermissionError unless user holds perm on def.
func (ps *PermissionService) Require(user *auth.UserSession, def *entity.EntityDefinition, perm string) error {
	if !ps.Can(user, def, perm) {
		return appErrors.NewPermissionError(perm, def.Name)
	}
	return nil
}

// Scope returns the rows of def that user can reach.
func (ps *PermissionService) Scope(user *auth.UserSession, def *entity.EntityDefinition) persistence.Scope {
	scope := persistence.Scope{TenantID: user.TenantID}
	if def.OwnerScoped && user.Role == constants.RoleSalesRep {
		scope.OwnerID = user.ID
	}
	return scope
}

// CanAssign reports whether user may set owner_id to someone else.
func (ps *PermissionService) CanAssign(user *auth.UserSession) bool {
	return user.SeesWholeTenant()
}
