package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/audit"
	"github.com/frahmantamala/meddevice-orders/internal/core/database"
	userDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/user"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
)

const usersTable = "users"

// Repository returns internal.ErrUserNotFound when the user does not exist.
type Repository interface {
	GetByID(ctx context.Context, userID int64) (*userDatamodel.User, error)
	AssignRole(ctx context.Context, userID int64, role rbac.Role, until *time.Time, grantedBy int64) error
}

type ServiceAPI interface {
	GetProfile(ctx context.Context, principal rbac.Principal) (*Profile, error)
	AssignRole(ctx context.Context, principal rbac.Principal, userID int64, dto AssignRoleDTO) (*RoleAssignmentV1, error)
}

type Service struct {
	repo   Repository
	engine *rbac.Engine
	audit  audit.Recorder
	tx     database.Transactor
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, engine *rbac.Engine, recorder audit.Recorder, tx database.Transactor, logger *slog.Logger) *Service {
	if tx == nil {
		tx = database.NoopTransactor
	}
	return &Service{
		repo:   repo,
		engine: engine,
		audit:  recorder,
		tx:     tx,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetProfile loads the caller's account and attaches the roles and
// permissions resolved for this request.
func (s *Service) GetProfile(ctx context.Context, principal rbac.Principal) (*Profile, error) {
	u, err := s.repo.GetByID(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, internal.ErrUserNotFound) {
			return nil, internal.ErrUserNotFound
		}
		s.logger.ErrorContext(ctx, "failed to load user", "user_id", principal.UserID, "error", err)
		return nil, internal.NewInternalError("failed to get user", err)
	}

	p := FromDataModel(u)
	p.Roles = append(p.Roles, principal.Roles...)
	p.Permissions = s.engine.EffectivePermissions(principal.Roles)
	return p, nil
}

// AssignRole grants a role to userID. The grant takes effect on the user's
// next request since roles are resolved per call.
func (s *Service) AssignRole(ctx context.Context, principal rbac.Principal, userID int64, dto AssignRoleDTO) (*RoleAssignmentV1, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	role, _ := rbac.ParseRole(dto.Role)
	recordID := strconv.FormatInt(userID, 10)

	if missing := s.engine.Missing(principal, rbac.PermRoleAssign); len(missing) > 0 {
		err := s.audit.Record(ctx, audit.Entry{
			ActorID:  audit.ActorID(principal.UserID),
			Action:   audit.ActionRoleAssign,
			Table:    usersTable,
			RecordID: recordID,
			Outcome:  audit.OutcomeDenied,
			Reason:   "missing permissions: " + string(rbac.PermRoleAssign),
		})
		if err != nil {
			return nil, err
		}
		return nil, internal.ErrForbidden.WithDetails(map[string]any{"missing_permissions": missing})
	}

	if dto.EffectiveUntil != nil && !dto.EffectiveUntil.After(s.now()) {
		return nil, internal.NewValidationFieldError("effective_until", "effective_until must be in the future", internal.ErrCodeValidationFailed)
	}

	assignment := &RoleAssignmentV1{
		UserID:         userID,
		Role:           role,
		EffectiveUntil: dto.EffectiveUntil,
		GrantedBy:      principal.UserID,
	}

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetByID(ctx, userID); err != nil {
			return err
		}
		if err := s.repo.AssignRole(ctx, userID, role, dto.EffectiveUntil, principal.UserID); err != nil {
			return fmt.Errorf("assign role: %w", err)
		}
		return s.audit.Record(ctx, audit.Entry{
			ActorID:   audit.ActorID(principal.UserID),
			Action:    audit.ActionRoleAssign,
			Table:     usersTable,
			RecordID:  recordID,
			NewValues: assignment,
			Outcome:   audit.OutcomeAllowed,
		})
	})
	if err != nil {
		if appErr, ok := internal.IsAppError(err); ok {
			return nil, appErr
		}
		s.logger.ErrorContext(ctx, "role assignment failed", "user_id", userID, "role", role, "error", err)
		return nil, internal.NewInternalError("failed to assign role", err)
	}

	s.logger.InfoContext(ctx, "role assigned",
		"user_id", userID,
		"role", role,
		"granted_by", principal.UserID)
	return assignment, nil
}
