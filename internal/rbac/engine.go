package rbac

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Principal is an authenticated user together with the roles that were active
// when it was resolved. It is passed explicitly into every check.
type Principal struct {
	UserID   int64
	Username string
	Roles    []Role
}

func (p Principal) IsZero() bool {
	return p.UserID == 0
}

// Engine answers authorization questions against an immutable catalog. It
// holds no per-user state.
type Engine struct {
	catalog *Catalog
}

func NewEngine(catalog *Catalog) *Engine {
	return &Engine{catalog: catalog}
}

func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Authorize reports whether any of the principal's roles grants perm.
func (e *Engine) Authorize(p Principal, perm Permission) bool {
	for _, role := range p.Roles {
		if e.catalog.Has(role, perm) {
			return true
		}
	}
	return false
}

// Missing returns the subset of perms the principal does not hold, in the
// order given. An empty result means every permission is granted.
func (e *Engine) Missing(p Principal, perms ...Permission) []Permission {
	var missing []Permission
	for _, perm := range perms {
		if !e.Authorize(p, perm) {
			missing = append(missing, perm)
		}
	}
	return missing
}

// EffectivePermissions is the sorted union of the roles' permission sets.
func (e *Engine) EffectivePermissions(roles []Role) []Permission {
	set := mapset.NewThreadUnsafeSet[Permission]()
	for _, role := range roles {
		set.Append(e.catalog.Permissions(role)...)
	}
	out := set.ToSlice()
	sortPermissions(out)
	return out
}
