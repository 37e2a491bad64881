package auth

import (
	"context"
	"strings"
	"time"

	userDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/user"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
)

// CredentialRepository reads and writes user credential rows. Find methods
// return nil, nil when no row matches. forUpdate takes a row lock for the
// rest of the ambient transaction.
type CredentialRepository interface {
	FindByIdentifier(ctx context.Context, identifier string) (*userDatamodel.User, error)
	FindByID(ctx context.Context, id int64, forUpdate bool) (*userDatamodel.User, error)
	UpdateCredential(ctx context.Context, user *userDatamodel.User) error
}

// PrincipalResolver re-derives active roles from storage.
type PrincipalResolver interface {
	Resolve(ctx context.Context, userID int64, username string) (rbac.Principal, error)
}

type ServiceAPI interface {
	Authenticate(ctx context.Context, identifier, password string) (*Session, error)
	RefreshSession(ctx context.Context, token string) (*Session, error)
	ResolveSession(ctx context.Context, token string) (rbac.Principal, *SessionClaims, error)
	RequestPasswordReset(ctx context.Context, identifier string) error
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, identifier, currentPassword, newPassword string) error
	Authorize(principal rbac.Principal, permission rbac.Permission) bool
	EffectivePermissions(principal rbac.Principal) []rbac.Permission
}

type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: 5, Duration: 30 * time.Minute}
}

// NormalizeIdentifier is the canonical form used for username and email
// lookups.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
