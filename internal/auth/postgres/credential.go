package postgres

import (
	"context"
	"errors"

	"github.com/frahmantamala/meddevice-orders/internal/auth"
	"github.com/frahmantamala/meddevice-orders/internal/core/database"
	userDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/user"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// FindByIdentifier matches a normalized identifier against username or email.
// Both columns are stored lower-cased.
func (r *CredentialRepository) FindByIdentifier(ctx context.Context, identifier string) (*userDatamodel.User, error) {
	var u userDatamodel.User
	err := database.Conn(ctx, r.db).
		Where("username = ? OR email = ?", identifier, identifier).
		Order("id ASC").
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *CredentialRepository) FindByID(ctx context.Context, id int64, forUpdate bool) (*userDatamodel.User, error) {
	query := database.Conn(ctx, r.db)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var u userDatamodel.User
	if err := query.Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// UpdateCredential writes the credential columns of u. Zero values are
// written too, which is how counters and flags get cleared.
func (r *CredentialRepository) UpdateCredential(ctx context.Context, u *userDatamodel.User) error {
	return database.Conn(ctx, r.db).
		Model(&userDatamodel.User{}).
		Where("id = ?", u.ID).
		Updates(map[string]interface{}{
			"password_hash":         u.PasswordHash,
			"failed_login_attempts": u.FailedLoginAttempts,
			"is_locked":             u.IsLocked,
			"locked_until":          u.LockedUntil,
			"password_changed_at":   u.PasswordChangedAt,
			"password_expires_at":   u.PasswordExpiresAt,
			"must_change_password":  u.MustChangePassword,
			"credential_version":    u.CredentialVersion,
			"last_login":            u.LastLogin,
		}).Error
}

// Create stores a new user. Used by the seeder.
func (r *CredentialRepository) Create(ctx context.Context, u *userDatamodel.User) error {
	u.Username = auth.NormalizeIdentifier(u.Username)
	u.Email = auth.NormalizeIdentifier(u.Email)
	return database.Conn(ctx, r.db).Create(u).Error
}
