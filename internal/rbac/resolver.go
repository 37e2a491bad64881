package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Assignment is one user-to-role edge as stored.
type Assignment struct {
	RoleCode       string
	IsActive       bool
	EffectiveUntil *time.Time
}

// Active reports whether the assignment grants its role at now.
func (a Assignment) Active(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.EffectiveUntil == nil || a.EffectiveUntil.After(now)
}

type AssignmentRepository interface {
	AssignmentsForUser(ctx context.Context, userID int64) ([]Assignment, error)
}

// Resolver derives a principal's active roles from storage on every call.
type Resolver struct {
	repo   AssignmentRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewResolver(repo AssignmentRepository, logger *slog.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger, now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

func (r *Resolver) Resolve(ctx context.Context, userID int64, username string) (Principal, error) {
	assignments, err := r.repo.AssignmentsForUser(ctx, userID)
	if err != nil {
		return Principal{}, fmt.Errorf("load role assignments: %w", err)
	}

	now := r.now()
	seen := make(map[Role]struct{}, len(assignments))
	roles := make([]Role, 0, len(assignments))
	for _, a := range assignments {
		if !a.Active(now) {
			continue
		}
		role, ok := ParseRole(a.RoleCode)
		if !ok {
			r.logger.WarnContext(ctx, "ignoring unknown role code on assignment",
				"user_id", userID,
				"role_code", a.RoleCode)
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}

	return Principal{UserID: userID, Username: username, Roles: roles}, nil
}
