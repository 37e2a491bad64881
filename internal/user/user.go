package user

import (
	"time"

	userDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/user"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
)

// Profile is the caller-facing view of an account. Roles and permissions are
// the ones active when the request was authenticated.
type Profile struct {
	ID                 int64             `json:"id"`
	Username           string            `json:"username"`
	Email              string            `json:"email"`
	FullName           string            `json:"full_name"`
	IsActive           bool              `json:"is_active"`
	MustChangePassword bool              `json:"must_change_password"`
	PasswordExpiresAt  time.Time         `json:"password_expires_at"`
	LastLogin          *time.Time        `json:"last_login,omitempty"`
	Roles              []rbac.Role       `json:"roles"`
	Permissions        []rbac.Permission `json:"permissions"`
	CreatedAt          time.Time         `json:"created_at"`
}

func FromDataModel(u *userDatamodel.User) *Profile {
	return &Profile{
		ID:                 u.ID,
		Username:           u.Username,
		Email:              u.Email,
		FullName:           u.FullName,
		IsActive:           u.IsActive,
		MustChangePassword: u.MustChangePassword,
		PasswordExpiresAt:  u.PasswordExpiresAt,
		LastLogin:          u.LastLogin,
		CreatedAt:          u.CreatedAt,
		Roles:              []rbac.Role{},
		Permissions:        []rbac.Permission{},
	}
}
