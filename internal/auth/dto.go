package auth

import (
	"time"

	errors "github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/core/common/validation"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
)

// LoginDTO is the transport shape used by the HTTP handler to accept login requests.
// Identifier is a username or an email address.
type LoginDTO struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (d LoginDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("identifier", d.Identifier).Required().MaxLength(254)
	v.Field("password", d.Password).Required().MaxLength(256)
	return v.Validate()
}

type PasswordResetRequestDTO struct {
	Identifier string `json:"identifier"`
}

func (d PasswordResetRequestDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("identifier", d.Identifier).Required().MaxLength(254)
	return v.Validate()
}

type PasswordResetConfirmDTO struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (d PasswordResetConfirmDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("token", d.Token).Required().MaxLength(128)
	v.Field("new_password", d.NewPassword).Required()
	return v.Validate()
}

type PasswordChangeDTO struct {
	Identifier      string `json:"identifier"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (d PasswordChangeDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("identifier", d.Identifier).Required().MaxLength(254)
	v.Field("current_password", d.CurrentPassword).Required()
	v.Field("new_password", d.NewPassword).Required()
	return v.Validate()
}

type SessionUserV1 struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type SessionResponseV1 struct {
	Token     string        `json:"token"`
	TokenType string        `json:"token_type"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      SessionUserV1 `json:"user"`
}

type AuthorizeResponseV1 struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

// ToV1 converts the session to its API view.
func (s *Session) ToV1() SessionResponseV1 {
	return SessionResponseV1{
		Token:     s.Token,
		TokenType: "Bearer",
		ExpiresAt: s.ExpiresAt,
		User:      NewSessionUserV1(s.Principal, s.Permissions),
	}
}

func NewSessionUserV1(p rbac.Principal, perms []rbac.Permission) SessionUserV1 {
	roles := make([]string, len(p.Roles))
	for i, r := range p.Roles {
		roles[i] = string(r)
	}
	codes := make([]string, len(perms))
	for i, perm := range perms {
		codes[i] = string(perm)
	}
	return SessionUserV1{ID: p.UserID, Username: p.Username, Roles: roles, Permissions: codes}
}
