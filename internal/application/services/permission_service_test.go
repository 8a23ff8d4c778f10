package services

import (
	"testing"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestPermissionsByRole(t *testing.T) {
	ps := NewPermissionService(entity.NewCRMRegistry())
	leads := definitionOf(t, constants.EntityLeads)
	campaigns := definitionOf(t, constants.EntityCampaigns)
	mutations := []string{constants.PermissionCreate, constants.PermissionUpdate, constants.PermissionDelete}

	for _, role := range []string{constants.RoleAdmin, constants.RoleManager} {
		u := session(adminID, role)
		for _, perm := range append(mutations, constants.PermissionRead) {
			assert.True(t, ps.Can(u, leads, perm), "%s %s leads", role, perm)
			assert.True(t, ps.Can(u, campaigns, perm), "%s %s campaigns", role, perm)
		}
	}

	rep := repSession()
	for _, perm := range mutations {
		assert.True(t, ps.Can(rep, leads, perm))
		assert.False(t, ps.Can(rep, campaigns, perm))
	}
	assert.True(t, ps.Can(rep, campaigns, constants.PermissionRead))

	ro := readOnlySession()
	assert.True(t, ps.Can(ro, leads, constants.PermissionRead))
	for _, perm := range mutations {
		assert.False(t, ps.Can(ro, leads, perm))
	}

	assert.False(t, ps.Can(nil, leads, constants.PermissionRead))
	assert.False(t, ps.Can(session(adminID, "guest"), leads, constants.PermissionRead))
}

func TestPermissionRequire(t *testing.T) {
	ps := NewPermissionService(entity.NewCRMRegistry())
	err := ps.Require(readOnlySession(), definitionOf(t, constants.EntityTasks), constants.PermissionDelete)
	assert.True(t, appErrors.IsPermission(err))
	assert.Equal(t, 403, appErrors.GetHTTPStatus(err))

	assert.NoError(t, ps.Require(repSession(), definitionOf(t, constants.EntityTasks), constants.PermissionDelete))
}

func TestPermissionScope(t *testing.T) {
	ps := NewPermissionService(entity.NewCRMRegistry())
	leads := definitionOf(t, constants.EntityLeads)
	campaigns := definitionOf(t, constants.EntityCampaigns)

	scope := ps.Scope(repSession(), leads)
	assert.Equal(t, testTenant, scope.TenantID)
	assert.Equal(t, repID, scope.OwnerID)

	assert.Empty(t, ps.Scope(repSession(), campaigns).OwnerID)
	assert.Empty(t, ps.Scope(adminSession(), leads).OwnerID)
	assert.Empty(t, ps.Scope(readOnlySession(), leads).OwnerID)

	assert.True(t, ps.CanAssign(adminSession()))
	assert.True(t, ps.CanAssign(session(adminID, constants.RoleManager)))
	assert.False(t, ps.CanAssign(repSession()))
}
