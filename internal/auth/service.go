package auth

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
	"github.com/frahmantamala/meddevice-orders/internal/core/lock"
	"github.com/frahmantamala/meddevice-orders/internal/obs"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
)

const usersTable = "users"

type Dependencies struct {
	Credentials   CredentialRepository
	Resolver      PrincipalResolver
	Engine        *rbac.Engine
	Sessions      *SessionManager
	Hasher        *Hasher
	Policy        PasswordPolicy
	Lockout       LockoutPolicy
	ResetTokens   ResetTokenStore
	ResetTokenTTL time.Duration
	Delivery      ResetDelivery
	Audit         audit.Recorder
	Transactor    database.Transactor
	Metrics       *obs.Metrics
	Logger        *slog.Logger
}

// Service is the credential and session manager.
type Service struct {
	creds    CredentialRepository
	resolver PrincipalResolver
	engine   *rbac.Engine
	sessions *SessionManager
	hasher   *Hasher
	policy   PasswordPolicy
	lockout  LockoutPolicy
	resets   ResetTokenStore
	resetTTL time.Duration
	delivery ResetDelivery
	audit    audit.Recorder
	tx       database.Transactor
	locks    *lock.Keyed[int64]
	metrics  *obs.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(deps Dependencies) *Service {
	if deps.Transactor == nil {
		deps.Transactor = database.NoopTransactor
	}
	if deps.ResetTokenTTL <= 0 {
		deps.ResetTokenTTL = time.Hour
	}
	return &Service{
		creds:    deps.Credentials,
		resolver: deps.Resolver,
		engine:   deps.Engine,
		sessions: deps.Sessions,
		hasher:   deps.Hasher,
		policy:   deps.Policy,
		lockout:  deps.Lockout,
		resets:   deps.ResetTokens,
		resetTTL: deps.ResetTokenTTL,
		delivery: deps.Delivery,
		audit:    deps.Audit,
		tx:       deps.Transactor,
		locks:    lock.NewKeyed[int64](),
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Authenticate verifies a username or email and password pair under the
// lockout rules and issues a session. Every attempt is audited; if the audit
// write fails the attempt is rolled back and AuditWriteFailed returned.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*Session, error) {
	ident := NormalizeIdentifier(identifier)
	if ident == "" || password == "" {
		return nil, internal.ErrInvalidCredentials
	}

	user, err := s.creds.FindByIdentifier(ctx, ident)
	if err != nil {
		return nil, s.internalError(ctx, "load credentials", err)
	}
	if user == nil {
		s.hasher.VerifyDummy(password)
		if err := s.recordUnknownAccount(ctx, audit.ActionLogin, ident); err != nil {
			return nil, err
		}
		s.metrics.LoginAttempt(string(internal.ErrCodeInvalidCredentials))
		return nil, internal.ErrInvalidCredentials
	}

	unlock := s.locks.Lock(user.ID)
	defer unlock()

	var (
		session *Session
		outcome *internal.AppError
	)
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		u, err := s.creds.FindByID(ctx, user.ID, true)
		if err != nil {
			return err
		}
		if u == nil {
			outcome = internal.ErrInvalidCredentials
			return s.recordCredential(ctx, user.ID, audit.ActionLogin, audit.OutcomeDenied, "account removed", nil)
		}

		now := s.now()
		failure, reason, dirty := s.checkPassword(u, password, now)
		if failure == nil {
			switch {
			case now.After(u.PasswordExpiresAt):
				failure, reason = internal.ErrPasswordExpired, "password expired"
			case u.MustChangePassword:
				failure, reason = internal.ErrPasswordChangeRequired, "password change required"
			}
		}

		if failure != nil {
			if dirty {
				if err := s.creds.UpdateCredential(ctx, u); err != nil {
					return err
				}
			}
			outcome = failure
			return s.recordCredential(ctx, u.ID, audit.ActionLogin, audit.OutcomeDenied, reason, lockoutState(u))
		}

		u.LastLogin = &now
		if err := s.creds.UpdateCredential(ctx, u); err != nil {
			return err
		}

		principal, err := s.resolver.Resolve(ctx, u.ID, u.Username)
		if err != nil {
			return err
		}
		session, err = s.sessions.Issue(principal, s.engine.EffectivePermissions(principal.Roles), u.CredentialVersion, time.Time{})
		if err != nil {
			return err
		}
		return s.recordCredential(ctx, u.ID, audit.ActionLogin, audit.OutcomeAllowed, "", nil)
	})
	if err != nil {
		return nil, s.txError(ctx, "authenticate", err)
	}

	if outcome != nil {
		s.metrics.LoginAttempt(string(outcome.Code))
		s.logger.InfoContext(ctx, "authentication rejected", "user_id", user.ID, "code", outcome.Code)
		return nil, outcome
	}

	s.metrics.LoginAttempt("OK")
	s.logger.InfoContext(ctx, "user authenticated", "user_id", user.ID, "roles", session.Principal.Roles)
	return session, nil
}

// checkPassword applies the lockout rules and verifies password. It mutates
// the counters on u and reports whether they changed.
func (s *Service) checkPassword(u *userDatamodel.User, password string, now time.Time) (*internal.AppError, string, bool) {
	if !u.IsActive {
		s.hasher.VerifyDummy(password)
		return internal.ErrInvalidCredentials, "account inactive", false
	}

	dirty := false
	if u.IsLocked {
		if u.LockedUntil == nil || now.Before(*u.LockedUntil) {
			return internal.ErrAccountLocked, "account locked", false
		}
		u.IsLocked = false
		u.LockedUntil = nil
		u.FailedLoginAttempts = 0
		dirty = true
	}

	if !s.hasher.Verify(u.PasswordHash, password) {
		u.FailedLoginAttempts++
		if u.FailedLoginAttempts >= s.lockout.Threshold {
			until := now.Add(s.lockout.Duration)
			u.IsLocked = true
			u.LockedUntil = &until
			return internal.ErrInvalidCredentials, "invalid password, account locked", true
		}
		return internal.ErrInvalidCredentials, "invalid password", true
	}

	if u.FailedLoginAttempts != 0 {
		u.FailedLoginAttempts = 0
		dirty = true
	}
	return nil, "", dirty
}

// ResolveSession verifies token and re-derives the principal from storage.
// The embedded role snapshot is never trusted.
func (s *Service) ResolveSession(ctx context.Context, token string) (rbac.Principal, *SessionClaims, error) {
	claims, err := s.sessions.Parse(token)
	if err != nil {
		return rbac.Principal{}, nil, internal.ErrSessionInvalidated.WithCause(err)
	}

	u, err := s.creds.FindByID(ctx, claims.UserID, false)
	if err != nil {
		return rbac.Principal{}, nil, s.internalError(ctx, "load session user", err)
	}
	if reason := s.sessionInvalidReason(u, claims); reason != "" {
		s.logger.InfoContext(ctx, "session invalidated", "user_id", claims.UserID, "reason", reason)
		return rbac.Principal{}, nil, internal.ErrSessionInvalidated
	}

	principal, err := s.resolver.Resolve(ctx, u.ID, u.Username)
	if err != nil {
		return rbac.Principal{}, nil, s.internalError(ctx, "resolve principal", err)
	}
	return principal, claims, nil
}

// RefreshSession re-issues token with a fresh role snapshot. The absolute
// expiry of the original session is kept.
func (s *Service) RefreshSession(ctx context.Context, token string) (*Session, error) {
	principal, claims, err := s.ResolveSession(ctx, token)
	if err != nil {
		return nil, err
	}
	session, err := s.sessions.Issue(principal, s.engine.EffectivePermissions(principal.Roles), claims.CredentialVersion, claims.ExpiresAt.Time)
	if err != nil {
		return nil, s.internalError(ctx, "issue session", err)
	}
	return session, nil
}

func (s *Service) sessionInvalidReason(u *userDatamodel.User, claims *SessionClaims) string {
	switch {
	case u == nil:
		return "user not found"
	case !u.IsActive:
		return "user inactive"
	case u.IsLocked && (u.LockedUntil == nil || s.now().Before(*u.LockedUntil)):
		return "account locked"
	case u.CredentialVersion != claims.CredentialVersion:
		return "password changed"
	}
	return ""
}

// RequestPasswordReset issues a single-use reset token and hands it to the
// delivery channel. It reports success for unknown identifiers.
func (s *Service) RequestPasswordReset(ctx context.Context, identifier string) error {
	ident := NormalizeIdentifier(identifier)
	if ident == "" {
		return internal.NewValidationFieldError("identifier", "identifier is required", internal.ErrCodeValidationFailed)
	}

	u, err := s.creds.FindByIdentifier(ctx, ident)
	if err != nil {
		return s.internalError(ctx, "load credentials", err)
	}
	if u == nil || !u.IsActive {
		return s.recordUnknownAccount(ctx, audit.ActionPasswordResetRequest, ident)
	}

	raw, hash, err := newResetToken()
	if err != nil {
		return s.internalError(ctx, "generate reset token", err)
	}
	if err := s.resets.Save(ctx, u.ID, hash, s.resetTTL); err != nil {
		return s.internalError(ctx, "store reset token", err)
	}

	if err := s.recordCredential(ctx, u.ID, audit.ActionPasswordResetRequest, audit.OutcomeAllowed, "", nil); err != nil {
		if _, cerr := s.resets.Consume(ctx, hash); cerr != nil && !errors.Is(cerr, ErrResetTokenNotFound) {
			s.logger.ErrorContext(ctx, "failed to revoke unaudited reset token", "user_id", u.ID, "error", cerr)
		}
		s.metrics.AuditWriteFailed()
		return err
	}

	recipient := ResetRecipient{UserID: u.ID, Username: u.Username, Email: u.Email}
	if err := s.delivery.DeliverResetToken(ctx, recipient, raw, s.now().Add(s.resetTTL)); err != nil {
		s.logger.ErrorContext(ctx, "reset token delivery failed", "user_id", u.ID, "error", err)
	}
	return nil
}

// ConfirmPasswordReset consumes token and sets newPassword. The token stays
// valid when newPassword fails the policy or the change cannot be committed,
// so the user can retry.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return internal.ErrTokenInvalid
	}
	hash := hashResetToken(token)

	userID, err := s.resets.Lookup(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrResetTokenNotFound) {
			return internal.ErrTokenInvalid
		}
		return s.internalError(ctx, "lookup reset token", err)
	}

	u, err := s.creds.FindByID(ctx, userID, false)
	if err != nil {
		return s.internalError(ctx, "load credentials", err)
	}
	if u == nil || !u.IsActive {
		return internal.ErrTokenInvalid
	}
	if appErr := s.policy.Validate(newPassword, u.Username); appErr != nil {
		return appErr
	}
	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.internalError(ctx, "hash password", err)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	// the token is consumed last, so a failed update or audit write leaves
	// it usable for a retry
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		u, err := s.creds.FindByID(ctx, userID, true)
		if err != nil {
			return err
		}
		if u == nil {
			return internal.ErrTokenInvalid
		}
		s.applyNewPassword(u, newHash)
		if err := s.creds.UpdateCredential(ctx, u); err != nil {
			return err
		}
		if err := s.recordCredential(ctx, u.ID, audit.ActionPasswordResetConfirm, audit.OutcomeAllowed, "", nil); err != nil {
			return err
		}

		owner, err := s.resets.Consume(ctx, hash)
		if errors.Is(err, ErrResetTokenNotFound) {
			return internal.ErrTokenInvalid
		}
		if err != nil {
			return fmt.Errorf("consume reset token: %w", err)
		}
		if owner != userID {
			return internal.ErrTokenInvalid
		}
		return nil
	})
	if err != nil {
		return s.txError(ctx, "confirm password reset", err)
	}

	s.logger.InfoContext(ctx, "password reset completed", "user_id", userID)
	return nil
}

// ChangePassword replaces a known password. It is the way out of
// PasswordExpired and PasswordChangeRequired, and counts toward lockout like
// a login.
func (s *Service) ChangePassword(ctx context.Context, identifier, currentPassword, newPassword string) error {
	ident := NormalizeIdentifier(identifier)
	if ident == "" || currentPassword == "" {
		return internal.ErrInvalidCredentials
	}

	user, err := s.creds.FindByIdentifier(ctx, ident)
	if err != nil {
		return s.internalError(ctx, "load credentials", err)
	}
	if user == nil {
		s.hasher.VerifyDummy(currentPassword)
		if err := s.recordUnknownAccount(ctx, audit.ActionPasswordChange, ident); err != nil {
			return err
		}
		return internal.ErrInvalidCredentials
	}

	unlock := s.locks.Lock(user.ID)
	defer unlock()

	var outcome *internal.AppError
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		u, err := s.creds.FindByID(ctx, user.ID, true)
		if err != nil {
			return err
		}
		if u == nil {
			outcome = internal.ErrInvalidCredentials
			return s.recordCredential(ctx, user.ID, audit.ActionPasswordChange, audit.OutcomeDenied, "account removed", nil)
		}

		failure, reason, dirty := s.checkPassword(u, currentPassword, s.now())
		if failure == nil {
			if appErr := s.policy.Validate(newPassword, u.Username); appErr != nil {
				failure, reason = appErr, "password policy"
			} else if s.hasher.Verify(u.PasswordHash, newPassword) {
				failure = internal.NewValidationFieldError("new_password", "new password must differ from the current password", internal.ErrCodePasswordPolicy)
				reason = "password reuse"
			}
		}
		if failure != nil {
			if dirty {
				if err := s.creds.UpdateCredential(ctx, u); err != nil {
					return err
				}
			}
			outcome = failure
			return s.recordCredential(ctx, u.ID, audit.ActionPasswordChange, audit.OutcomeDenied, reason, lockoutState(u))
		}

		newHash, err := s.hasher.Hash(newPassword)
		if err != nil {
			return err
		}
		s.applyNewPassword(u, newHash)
		if err := s.creds.UpdateCredential(ctx, u); err != nil {
			return err
		}
		return s.recordCredential(ctx, u.ID, audit.ActionPasswordChange, audit.OutcomeAllowed, "", nil)
	})
	if err != nil {
		return s.txError(ctx, "change password", err)
	}
	if outcome != nil {
		return outcome
	}

	s.logger.InfoContext(ctx, "password changed", "user_id", user.ID)
	return nil
}

func (s *Service) applyNewPassword(u *userDatamodel.User, hash string) {
	now := s.now()
	u.PasswordHash = hash
	u.PasswordChangedAt = now
	u.CredentialVersion++
	u.PasswordExpiresAt = s.policy.ExpiresAt(now)
	u.MustChangePassword = false
	u.IsLocked = false
	u.LockedUntil = nil
	u.FailedLoginAttempts = 0
}

func (s *Service) Authorize(principal rbac.Principal, permission rbac.Permission) bool {
	return s.engine.Authorize(principal, permission)
}

func (s *Service) EffectivePermissions(principal rbac.Principal) []rbac.Permission {
	return s.engine.EffectivePermissions(principal.Roles)
}

func (s *Service) recordCredential(ctx context.Context, userID int64, action string, outcome audit.Outcome, reason string, state any) error {
	return s.audit.Record(ctx, audit.Entry{
		ActorID:   audit.ActorID(userID),
		Action:    action,
		Table:     usersTable,
		RecordID:  strconv.FormatInt(userID, 10),
		NewValues: state,
		Outcome:   outcome,
		Reason:    reason,
	})
}

func (s *Service) recordUnknownAccount(ctx context.Context, action, identifier string) error {
	err := s.audit.Record(ctx, audit.Entry{
		Action:    action,
		Table:     usersTable,
		NewValues: map[string]string{"identifier": identifier},
		Outcome:   audit.OutcomeDenied,
		Reason:    "unknown or inactive account",
	})
	if err != nil {
		s.metrics.AuditWriteFailed()
	}
	return err
}

func lockoutState(u *userDatamodel.User) map[string]any {
	state := map[string]any{
		"failed_login_attempts": u.FailedLoginAttempts,
		"is_locked":             u.IsLocked,
	}
	if u.LockedUntil != nil {
		state["locked_until"] = u.LockedUntil.Format(time.RFC3339)
	}
	return state
}

// txError keeps typed errors raised inside a transaction and wraps the rest.
func (s *Service) txError(ctx context.Context, op string, err error) error {
	if appErr, ok := internal.IsAppError(err); ok {
		if errors.Is(appErr, internal.ErrAuditWriteFailed) {
			s.metrics.AuditWriteFailed()
		}
		return appErr
	}
	return s.internalError(ctx, op, err)
}

func (s *Service) internalError(ctx context.Context, op string, err error) error {
	s.logger.ErrorContext(ctx, op+" failed", "error", err)
	return internal.NewInternalError(fmt.Sprintf("failed to %s", op), err)
}
