package rbac

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// Catalog maps each role to its flat permission set. It is built once and
// never mutated, so it is shared between goroutines without locking.
type Catalog struct {
	grants map[Role]mapset.Set[Permission]
}

// NewCatalog validates grants against the role and permission enums. Every
// role must be present and the admin role must hold the full catalog
// explicitly.
func NewCatalog(grants map[Role][]Permission) (*Catalog, error) {
	c := &Catalog{grants: make(map[Role]mapset.Set[Permission], len(grants))}

	for role, perms := range grants {
		if _, ok := roleNames[role]; !ok {
			return nil, fmt.Errorf("catalog: unknown role %q", role)
		}
		set := mapset.NewThreadUnsafeSet[Permission]()
		for _, p := range perms {
			if _, ok := permissionInfos[p]; !ok {
				return nil, fmt.Errorf("catalog: role %s references unknown permission %q", role, p)
			}
			set.Add(p)
		}
		c.grants[role] = set
	}

	for _, role := range AllRoles() {
		if _, ok := c.grants[role]; !ok {
			return nil, fmt.Errorf("catalog: role %s has no permission assignments", role)
		}
	}

	all := mapset.NewThreadUnsafeSet(AllPermissions()...)
	if !c.grants[RoleAdmin].Equal(all) {
		missing := all.Difference(c.grants[RoleAdmin]).ToSlice()
		sortPermissions(missing)
		return nil, fmt.Errorf("catalog: admin role must hold the full catalog, missing %v", missing)
	}

	return c, nil
}

// MustCatalog panics when grants are invalid. Only for static tables.
func MustCatalog(grants map[Role][]Permission) *Catalog {
	c, err := NewCatalog(grants)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Has(role Role, perm Permission) bool {
	set, ok := c.grants[role]
	if !ok {
		return false
	}
	return set.Contains(perm)
}

// Permissions returns the sorted permission set of role.
func (c *Catalog) Permissions(role Role) []Permission {
	set, ok := c.grants[role]
	if !ok {
		return nil
	}
	out := set.ToSlice()
	sortPermissions(out)
	return out
}

// Grants returns a copy of the role table, used when seeding storage.
func (c *Catalog) Grants() map[Role][]Permission {
	out := make(map[Role][]Permission, len(c.grants))
	for role := range c.grants {
		out[role] = c.Permissions(role)
	}
	return out
}

// DefaultGrants is the role table shipped with the service.
func DefaultGrants() map[Role][]Permission {
	return map[Role][]Permission{
		RoleAdmin: AllPermissions(),
		RoleSalesRep: {
			PermOrderCreate, PermOrderView, PermOrderConfigure, PermOrderSubmitApproval,
			PermDocumentView, PermDocumentUpload,
		},
		RoleSalesManager: {
			PermOrderCreate, PermOrderView, PermOrderConfigure, PermOrderSubmitApproval,
			PermOrderCancel, PermOrderRollback, PermBOMView, PermDocumentView,
			PermReportView, PermReportExport,
		},
		RoleEngineer: {
			PermOrderView, PermOrderConfigure, PermBOMGenerate, PermBOMView,
			PermDocumentView, PermDocumentUpload,
		},
		RoleProductionManager: {
			PermOrderView, PermOrderRollback, PermBOMGenerate, PermBOMView,
			PermProductionSchedule, PermProductionComplete, PermInventoryView,
			PermDocumentView, PermReportView,
		},
		RoleQCInspector: {
			PermOrderView, PermOrderRollback, PermQCInspect, PermQCApprove,
			PermBOMView, PermDocumentView, PermDocumentUpload,
		},
		RoleWarehouse: {
			PermOrderView, PermInventoryView, PermInventoryManage,
			PermShippingDispatch, PermDeliveryConfirm, PermDocumentView,
		},
		RoleAuditor: {
			PermOrderView, PermBOMView, PermDocumentView, PermReportView,
			PermReportExport, PermAuditView,
		},
	}
}

func DefaultCatalog() *Catalog {
	return MustCatalog(DefaultGrants())
}
