package rbac

import "time"

type Role struct {
	ID       int64  `gorm:"primaryKey"`
	RoleCode string `gorm:"column:role_code;uniqueIndex;not null"`
	RoleName string `gorm:"column:role_name;not null"`
	IsAdmin  bool   `gorm:"column:is_admin;not null;default:false"`
}

func (Role) TableName() string {
	return "roles"
}

type Permission struct {
	ID             int64  `gorm:"primaryKey"`
	PermissionCode string `gorm:"column:permission_code;uniqueIndex;not null"`
	Category       string `gorm:"column:category;not null"`
	Description    string `gorm:"column:description"`
}

func (Permission) TableName() string {
	return "permissions"
}

type RolePermission struct {
	RoleID       int64 `gorm:"column:role_id;primaryKey"`
	PermissionID int64 `gorm:"column:permission_id;primaryKey"`
}

func (RolePermission) TableName() string {
	return "role_permissions"
}

type UserRoleAssignment struct {
	ID             int64      `gorm:"primaryKey"`
	UserID         int64      `gorm:"column:user_id;not null;index"`
	RoleID         int64      `gorm:"column:role_id;not null"`
	IsActive       bool       `gorm:"column:is_active;not null"`
	EffectiveUntil *time.Time `gorm:"column:effective_until"`
	GrantedBy      *int64     `gorm:"column:granted_by"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (UserRoleAssignment) TableName() string {
	return "user_role_assignments"
}

// CatalogRow is one (role, permission) pair of the joined catalog query.
type CatalogRow struct {
	RoleCode       string `gorm:"column:role_code"`
	IsAdmin        bool   `gorm:"column:is_admin"`
	PermissionCode string `gorm:"column:permission_code"`
}
