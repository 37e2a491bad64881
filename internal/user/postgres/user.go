package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/core/database"
	rbacDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/rbac"
	userDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/user"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
	"github.com/frahmantamala/meddevice-orders/internal/user"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) user.Repository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*userDatamodel.User, error) {
	var u userDatamodel.User
	if err := database.Conn(ctx, r.db).First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) AssignRole(ctx context.Context, userID int64, role rbac.Role, until *time.Time, grantedBy int64) error {
	conn := database.Conn(ctx, r.db)

	var row rbacDatamodel.Role
	if err := conn.Where("role_code = ?", string(role)).First(&row).Error; err != nil {
		return fmt.Errorf("lookup role %s: %w", role, err)
	}

	return conn.Create(&rbacDatamodel.UserRoleAssignment{
		UserID:         userID,
		RoleID:         row.ID,
		IsActive:       true,
		EffectiveUntil: until,
		GrantedBy:      &grantedBy,
	}).Error
}
