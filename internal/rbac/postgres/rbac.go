package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/frahmantamala/meddevice-orders/internal/core/database"
	rbacDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/rbac"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AssignmentRepository struct {
	db *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// AssignmentsForUser returns every stored assignment of the user. Activity
// windows are evaluated by the resolver so the rule lives in one place.
func (r *AssignmentRepository) AssignmentsForUser(ctx context.Context, userID int64) ([]rbac.Assignment, error) {
	var rows []struct {
		RoleCode       string
		IsActive       bool
		EffectiveUntil *time.Time
	}
	err := database.Conn(ctx, r.db).
		Table("user_role_assignments ura").
		Select("r.role_code AS role_code, ura.is_active AS is_active, ura.effective_until AS effective_until").
		Joins("JOIN roles r ON r.id = ura.role_id").
		Where("ura.user_id = ?", userID).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]rbac.Assignment, 0, len(rows))
	for _, row := range rows {
		out = append(out, rbac.Assignment{
			RoleCode:       row.RoleCode,
			IsActive:       row.IsActive,
			EffectiveUntil: row.EffectiveUntil,
		})
	}
	return out, nil
}

// Assign grants role to the user, optionally until a fixed time.
func (r *AssignmentRepository) Assign(ctx context.Context, a *rbacDatamodel.UserRoleAssignment) error {
	return database.Conn(ctx, r.db).Create(a).Error
}

type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// Load reads role_permissions and builds a validated catalog.
func (r *CatalogRepository) Load(ctx context.Context) (*rbac.Catalog, error) {
	var rows []rbacDatamodel.CatalogRow
	err := database.Conn(ctx, r.db).
		Table("roles r").
		Select("r.role_code, r.is_admin, p.permission_code").
		Joins("LEFT JOIN role_permissions rp ON rp.role_id = r.id").
		Joins("LEFT JOIN permissions p ON p.id = rp.permission_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}

	grants := make(map[rbac.Role][]rbac.Permission)
	for _, row := range rows {
		role, ok := rbac.ParseRole(row.RoleCode)
		if !ok {
			return nil, fmt.Errorf("unknown role code %q in roles table", row.RoleCode)
		}
		if _, exists := grants[role]; !exists {
			grants[role] = []rbac.Permission{}
		}
		if row.PermissionCode == "" {
			continue
		}
		perm, ok := rbac.ParsePermission(row.PermissionCode)
		if !ok {
			return nil, fmt.Errorf("unknown permission code %q in permissions table", row.PermissionCode)
		}
		grants[role] = append(grants[role], perm)
	}

	return rbac.NewCatalog(grants)
}

// Seed writes the roles, permissions and role_permissions of catalog. Existing
// rows are left in place.
func (r *CatalogRepository) Seed(ctx context.Context, catalog *rbac.Catalog) error {
	tx := database.Conn(ctx, r.db)

	permIDs := make(map[rbac.Permission]int64)
	for _, p := range rbac.AllPermissions() {
		row := rbacDatamodel.Permission{
			PermissionCode: string(p),
			Category:       string(p.Category()),
			Description:    p.Description(),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("seed permission %s: %w", p, err)
		}
		var stored rbacDatamodel.Permission
		if err := tx.Where("permission_code = ?", string(p)).First(&stored).Error; err != nil {
			return fmt.Errorf("reload permission %s: %w", p, err)
		}
		permIDs[p] = stored.ID
	}

	for role, perms := range catalog.Grants() {
		row := rbacDatamodel.Role{
			RoleCode: string(role),
			RoleName: role.DisplayName(),
			IsAdmin:  role.IsAdmin(),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("seed role %s: %w", role, err)
		}
		var stored rbacDatamodel.Role
		if err := tx.Where("role_code = ?", string(role)).First(&stored).Error; err != nil {
			return fmt.Errorf("reload role %s: %w", role, err)
		}
		for _, p := range perms {
			link := rbacDatamodel.RolePermission{RoleID: stored.ID, PermissionID: permIDs[p]}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
				return fmt.Errorf("seed grant %s/%s: %w", role, p, err)
			}
		}
	}
	return nil
}

// RoleID looks up the primary key of a role code.
func (r *CatalogRepository) RoleID(ctx context.Context, role rbac.Role) (int64, error) {
	var row rbacDatamodel.Role
	if err := database.Conn(ctx, r.db).Where("role_code = ?", string(role)).First(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}
