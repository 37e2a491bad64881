// Package seed loads the role catalog and fixture accounts into a fresh
// database.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/frahmantamala/meddevice-orders/internal/auth"
	authPostgres "github.com/frahmantamala/meddevice-orders/internal/auth/postgres"
	"github.com/frahmantamala/meddevice-orders/internal/core/database"
	rbacDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/rbac"
	userDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/user"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
	rbacPostgres "github.com/frahmantamala/meddevice-orders/internal/rbac/postgres"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type Fixture struct {
	Users []UserFixture `yaml:"users"`
}

type UserFixture struct {
	Username           string   `yaml:"username"`
	Email              string   `yaml:"email"`
	FullName           string   `yaml:"full_name"`
	Password           string   `yaml:"password"`
	Roles              []string `yaml:"roles"`
	MustChangePassword bool     `yaml:"must_change_password"`
	Inactive           bool     `yaml:"inactive"`
}

func LoadFile(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a fixture and rejects unknown role codes up front.
func Parse(raw []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	for _, u := range f.Users {
		if u.Username == "" || u.Email == "" {
			return nil, fmt.Errorf("seed user needs username and email")
		}
		for _, code := range u.Roles {
			if _, ok := rbac.ParseRole(code); !ok {
				return nil, fmt.Errorf("seed user %s: unknown role %q", u.Username, code)
			}
		}
	}
	return &f, nil
}

type Seeder struct {
	db     *gorm.DB
	tx     database.Transactor
	hasher *auth.Hasher
	policy auth.PasswordPolicy
	logger *slog.Logger
	now    func() time.Time
}

func NewSeeder(db *gorm.DB, hasher *auth.Hasher, policy auth.PasswordPolicy, logger *slog.Logger) *Seeder {
	return &Seeder{
		db:     db,
		tx:     database.NewTransactor(db),
		hasher: hasher,
		policy: policy,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Apply writes the default catalog and every fixture user in one
// transaction. Users that already exist are left untouched, so running it
// twice is safe.
func (s *Seeder) Apply(ctx context.Context, f *Fixture) error {
	return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		catalogRepo := rbacPostgres.NewCatalogRepository(s.db)
		if err := catalogRepo.Seed(ctx, rbac.DefaultCatalog()); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}

		creds := authPostgres.NewCredentialRepository(s.db)
		assignments := rbacPostgres.NewAssignmentRepository(s.db)

		for _, fu := range f.Users {
			existing, err := creds.FindByIdentifier(ctx, auth.NormalizeIdentifier(fu.Username))
			if err != nil {
				return fmt.Errorf("lookup %s: %w", fu.Username, err)
			}
			if existing != nil {
				s.logger.InfoContext(ctx, "seed user already exists", "username", fu.Username)
				continue
			}

			if appErr := s.policy.Validate(fu.Password, fu.Username); appErr != nil {
				return fmt.Errorf("seed user %s: %s", fu.Username, appErr.GetDetailedMessage())
			}
			hash, err := s.hasher.Hash(fu.Password)
			if err != nil {
				return fmt.Errorf("hash password for %s: %w", fu.Username, err)
			}

			now := s.now()
			u := &userDatamodel.User{
				Username:           fu.Username,
				Email:              fu.Email,
				FullName:           fu.FullName,
				PasswordHash:       hash,
				PasswordChangedAt:  now,
				PasswordExpiresAt:  s.policy.ExpiresAt(now),
				MustChangePassword: fu.MustChangePassword,
				IsActive:           !fu.Inactive,
			}
			if err := creds.Create(ctx, u); err != nil {
				return fmt.Errorf("create %s: %w", fu.Username, err)
			}

			for _, code := range fu.Roles {
				role, _ := rbac.ParseRole(code)
				roleID, err := catalogRepo.RoleID(ctx, role)
				if err != nil {
					return fmt.Errorf("lookup role %s: %w", role, err)
				}
				if err := assignments.Assign(ctx, &rbacDatamodel.UserRoleAssignment{
					UserID:   u.ID,
					RoleID:   roleID,
					IsActive: true,
				}); err != nil {
					return fmt.Errorf("assign %s to %s: %w", role, fu.Username, err)
				}
			}

			s.logger.InfoContext(ctx, "seeded user", "username", fu.Username, "roles", fu.Roles)
		}
		return nil
	})
}
