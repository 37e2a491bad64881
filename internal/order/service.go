package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/audit"
	"github.com/frahmantamala/meddevice-orders/internal/bom"
	"github.com/frahmantamala/meddevice-orders/internal/core/common/validation"
	"github.com/frahmantamala/meddevice-orders/internal/core/database"
	orderDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/order"
	"github.com/frahmantamala/meddevice-orders/internal/core/events"
	"github.com/frahmantamala/meddevice-orders/internal/core/lock"
	"github.com/frahmantamala/meddevice-orders/internal/obs"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
)

const (
	ordersTable = "orders"

	actionOrderView = "order.view"

	// maxTransitionAttempts bounds reload-and-retry after a version conflict.
	maxTransitionAttempts = 3
)

var errVersionConflict = errors.New("order version changed")

// Repository is the order record store. Find methods return
// internal.ErrOrderNotFound when nothing matches.
type Repository interface {
	Create(ctx context.Context, o *orderDatamodel.Order, year int) error
	FindByNumber(ctx context.Context, orderNumber string) (*orderDatamodel.Order, error)
	List(ctx context.Context, filter ListOrdersFilter) ([]*orderDatamodel.Order, error)
	// UpdatePhase moves the order only if its version still equals
	// expectedVersion, and reports whether a row changed.
	UpdatePhase(ctx context.Context, id, expectedVersion int64, phase Phase, cancelledAt *time.Time) (bool, error)
	AppendTransition(ctx context.Context, record *orderDatamodel.PhaseTransitionRecord) error
	ListTransitions(ctx context.Context, orderID int64) ([]*orderDatamodel.PhaseTransitionRecord, error)
}

type ServiceAPI interface {
	CreateOrder(ctx context.Context, principal rbac.Principal, dto CreateOrderDTO) (*Order, error)
	GetOrder(ctx context.Context, principal rbac.Principal, orderNumber string) (*Order, error)
	ListOrders(ctx context.Context, principal rbac.Principal, filter ListOrdersFilter) ([]*Order, error)
	AttemptTransition(ctx context.Context, principal rbac.Principal, orderNumber string, target Phase, reason string) (*Order, error)
	ListTransitions(ctx context.Context, principal rbac.Principal, orderNumber string) ([]*TransitionRecord, error)
	AvailableTransitions(ctx context.Context, principal rbac.Principal, orderNumber string) ([]AvailableTransitionV1, error)
}

type Dependencies struct {
	Repository Repository
	Engine     *rbac.Engine
	Audit      audit.Recorder
	Transactor database.Transactor
	BOM        bom.Generator
	BOMTimeout time.Duration
	Publisher  events.Publisher
	Metrics    *obs.Metrics
	Logger     *slog.Logger
}

// Service is the order workflow state machine.
type Service struct {
	repo       Repository
	engine     *rbac.Engine
	audit      audit.Recorder
	tx         database.Transactor
	bom        bom.Generator
	bomTimeout time.Duration
	publisher  events.Publisher
	locks      *lock.Keyed[string]
	metrics    *obs.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(deps Dependencies) *Service {
	if deps.Transactor == nil {
		deps.Transactor = database.NoopTransactor
	}
	if deps.BOMTimeout <= 0 {
		deps.BOMTimeout = 5 * time.Second
	}
	return &Service{
		repo:       deps.Repository,
		engine:     deps.Engine,
		audit:      deps.Audit,
		tx:         deps.Transactor,
		bom:        deps.BOM,
		bomTimeout: deps.BOMTimeout,
		publisher:  deps.Publisher,
		locks:      lock.NewKeyed[string](),
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateOrder opens a new order in DRAFT.
func (s *Service) CreateOrder(ctx context.Context, principal rbac.Principal, dto CreateOrderDTO) (*Order, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if missing := s.engine.Missing(principal, rbac.PermOrderCreate); len(missing) > 0 {
		return nil, s.deny(ctx, principal, audit.ActionOrderCreate, "", missing)
	}

	row := &orderDatamodel.Order{
		CurrentPhase: string(PhaseDraft),
		Priority:     dto.Priority,
		CustomerName: strings.TrimSpace(dto.CustomerName),
		DeviceType:   strings.TrimSpace(dto.DeviceType),
		Notes:        dto.Notes,
		AssignedTo:   dto.AssignedTo,
		CreatedBy:    principal.UserID,
		Version:      1,
	}

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, row, s.now().Year()); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.Entry{
			ActorID:   audit.ActorID(principal.UserID),
			Action:    audit.ActionOrderCreate,
			Table:     ordersTable,
			RecordID:  row.OrderNumber,
			NewValues: FromDataModel(row),
			Outcome:   audit.OutcomeAllowed,
		})
	})
	if err != nil {
		return nil, s.txError(ctx, "create order", err)
	}

	s.logger.InfoContext(ctx, "order created",
		"order_number", row.OrderNumber,
		"priority", row.Priority,
		"user_id", principal.UserID)
	return FromDataModel(row), nil
}

func (s *Service) GetOrder(ctx context.Context, principal rbac.Principal, orderNumber string) (*Order, error) {
	if missing := s.engine.Missing(principal, rbac.PermOrderView); len(missing) > 0 {
		return nil, s.deny(ctx, principal, actionOrderView, orderNumber, missing)
	}
	row, err := s.repo.FindByNumber(ctx, orderNumber)
	if err != nil {
		return nil, s.lookupError(ctx, err)
	}
	return FromDataModel(row), nil
}

func (s *Service) ListOrders(ctx context.Context, principal rbac.Principal, filter ListOrdersFilter) ([]*Order, error) {
	if missing := s.engine.Missing(principal, rbac.PermOrderView); len(missing) > 0 {
		return nil, s.deny(ctx, principal, actionOrderView, "", missing)
	}
	if err := filter.Normalize(); err != nil {
		return nil, err
	}
	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, s.internalError(ctx, "list orders", err)
	}
	return FromDataModelSlice(rows), nil
}

// ListTransitions returns every recorded attempt on the order, oldest first,
// including denied and failed ones.
func (s *Service) ListTransitions(ctx context.Context, principal rbac.Principal, orderNumber string) ([]*TransitionRecord, error) {
	if missing := s.engine.Missing(principal, rbac.PermOrderView); len(missing) > 0 {
		return nil, s.deny(ctx, principal, actionOrderView, orderNumber, missing)
	}
	row, err := s.repo.FindByNumber(ctx, orderNumber)
	if err != nil {
		return nil, s.lookupError(ctx, err)
	}
	records, err := s.repo.ListTransitions(ctx, row.ID)
	if err != nil {
		return nil, s.internalError(ctx, "list transitions", err)
	}
	out := make([]*TransitionRecord, len(records))
	for i, r := range records {
		out[i] = TransitionFromDataModel(r)
	}
	return out, nil
}

// AvailableTransitions lists the moves principal could request right now.
// It is a hint for clients; AttemptTransition re-checks everything.
func (s *Service) AvailableTransitions(ctx context.Context, principal rbac.Principal, orderNumber string) ([]AvailableTransitionV1, error) {
	if missing := s.engine.Missing(principal, rbac.PermOrderView); len(missing) > 0 {
		return nil, s.deny(ctx, principal, actionOrderView, orderNumber, missing)
	}
	row, err := s.repo.FindByNumber(ctx, orderNumber)
	if err != nil {
		return nil, s.lookupError(ctx, err)
	}

	out := make([]AvailableTransitionV1, 0, 3)
	for _, t := range Candidates(Phase(row.CurrentPhase)) {
		if len(s.engine.Missing(principal, t.Required...)) > 0 {
			continue
		}
		out = append(out, AvailableTransitionV1{Target: t.To, Kind: t.Kind, RequiresReason: t.RequiresReason()})
	}
	return out, nil
}

// AttemptTransition moves an order to target. Attempts on one order are
// serialized in process and guarded by the version column across processes.
// Illegal, forbidden and dependency-failed attempts leave the order unchanged
// but are recorded and audited before the error is returned.
func (s *Service) AttemptTransition(ctx context.Context, principal rbac.Principal, orderNumber string, target Phase, reason string) (*Order, error) {
	if _, ok := ParsePhase(string(target)); !ok {
		return nil, internal.NewValidationFieldError("target_phase", "unknown phase", internal.ErrCodeInvalidPhase)
	}
	reason = strings.TrimSpace(reason)

	unlock := s.locks.Lock(orderNumber)
	defer unlock()

	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		updated, err := s.attemptOnce(ctx, principal, orderNumber, target, reason)
		if !errors.Is(err, errVersionConflict) {
			return updated, err
		}
		s.logger.WarnContext(ctx, "order changed during transition, retrying",
			"order_number", orderNumber,
			"attempt", attempt)
	}

	s.metrics.Transition("", string(target), "conflict")
	return nil, internal.ErrTransitionConflict
}

func (s *Service) attemptOnce(ctx context.Context, principal rbac.Principal, orderNumber string, target Phase, reason string) (*Order, error) {
	current, err := s.repo.FindByNumber(ctx, orderNumber)
	if err != nil {
		return nil, s.lookupError(ctx, err)
	}
	from := Phase(current.CurrentPhase)

	plan, ok := PlanTransition(from, target)
	if !ok {
		denial := fmt.Sprintf("illegal transition %s -> %s", from, target)
		return nil, s.reject(ctx, principal, current, target, audit.ActionOrderTransition, audit.OutcomeDenied, denial, reason, internal.ErrInvalidTransition)
	}

	if appErr := validation.ValidateReason(reason, plan.RequiresReason()); appErr != nil {
		return nil, appErr
	}

	action := actionFor(plan.Kind)
	if missing := s.engine.Missing(principal, plan.Required...); len(missing) > 0 {
		denial := "missing permissions: " + joinPermissions(missing)
		return nil, s.reject(ctx, principal, current, target, action, audit.OutcomeDenied, denial, reason,
			internal.ErrForbidden.WithDetails(map[string]any{"missing_permissions": missing}))
	}

	var bomResult *bom.Result
	if plan.RequiresBOM() {
		bomResult, err = s.generateBOM(ctx, current)
		if err != nil {
			s.logger.WarnContext(ctx, "bom generation failed",
				"order_number", orderNumber,
				"error", err)
			return nil, s.reject(ctx, principal, current, target, action, audit.OutcomeFailed, "bom generation failed: "+err.Error(), reason,
				internal.ErrDependencyFailed.WithCause(err))
		}
	}

	now := s.now()
	var cancelledAt *time.Time
	if plan.Kind == KindCancel {
		cancelledAt = &now
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		changed, err := s.repo.UpdatePhase(ctx, current.ID, current.Version, target, cancelledAt)
		if err != nil {
			return err
		}
		if !changed {
			return errVersionConflict
		}
		if err := s.repo.AppendTransition(ctx, &orderDatamodel.PhaseTransitionRecord{
			OrderID:   current.ID,
			FromPhase: string(from),
			ToPhase:   string(target),
			ActorID:   principal.UserID,
			Timestamp: now,
			Outcome:   string(audit.OutcomeAllowed),
			Reason:    reason,
		}); err != nil {
			return err
		}

		newValues := map[string]any{"phase": target, "version": current.Version + 1}
		if bomResult != nil {
			newValues["bom_id"] = bomResult.BOMID
		}
		return s.audit.Record(ctx, audit.Entry{
			ActorID:   audit.ActorID(principal.UserID),
			Action:    action,
			Table:     ordersTable,
			RecordID:  current.OrderNumber,
			OldValues: map[string]any{"phase": from, "version": current.Version},
			NewValues: newValues,
			Outcome:   audit.OutcomeAllowed,
			Reason:    reason,
		})
	})
	if errors.Is(err, errVersionConflict) {
		return nil, err
	}
	if err != nil {
		return nil, s.txError(ctx, "apply transition", err)
	}

	s.metrics.Transition(string(from), string(target), string(audit.OutcomeAllowed))

	current.CurrentPhase = string(target)
	current.Version++
	current.CancelledAt = cancelledAt
	current.UpdatedAt = now
	s.publish(ctx, events.NewOrderPhaseChangedEvent(current.OrderNumber, string(from), string(target), principal.UserID, current.AssignedTo))

	s.logger.InfoContext(ctx, "order transitioned",
		"order_number", current.OrderNumber,
		"from", from,
		"to", target,
		"kind", plan.Kind,
		"user_id", principal.UserID)
	return FromDataModel(current), nil
}

// generateBOM runs the collaborator under the configured deadline. The
// channel is buffered so a result arriving after the deadline is dropped
// without blocking the producer.
func (s *Service) generateBOM(ctx context.Context, o *orderDatamodel.Order) (*bom.Result, error) {
	if s.bom == nil {
		return nil, errors.New("no bom generator configured")
	}

	ctx, cancel := internal.WithTimeout(ctx, s.bomTimeout)
	defer cancel()

	type outcome struct {
		result *bom.Result
		err    error
	}
	done := make(chan outcome, 1)
	started := time.Now()

	req := bom.Request{OrderNumber: o.OrderNumber, DeviceType: o.DeviceType, Priority: o.Priority}
	go func() {
		res, err := s.bom.Generate(ctx, req)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil && out.result == nil {
			out.err = errors.New("bom generator returned no result")
		}
		if out.err != nil {
			s.metrics.BOMCall("error", time.Since(started))
			return nil, out.err
		}
		s.metrics.BOMCall("ok", time.Since(started))
		return out.result, nil
	case <-ctx.Done():
		s.metrics.BOMCall("timeout", time.Since(started))
		return nil, fmt.Errorf("bom generation did not finish within %s: %w", s.bomTimeout, ctx.Err())
	}
}

// reject records a refused attempt and returns cause. If the record or its
// audit entry cannot be written the caller gets AuditWriteFailed instead.
func (s *Service) reject(ctx context.Context, principal rbac.Principal, o *orderDatamodel.Order, target Phase, action string, outcome audit.Outcome, denial, reason string, cause *internal.AppError) error {
	from := o.CurrentPhase
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.AppendTransition(ctx, &orderDatamodel.PhaseTransitionRecord{
			OrderID:   o.ID,
			FromPhase: from,
			ToPhase:   string(target),
			ActorID:   principal.UserID,
			Timestamp: s.now(),
			Outcome:   string(outcome),
			Reason:    denial,
		}); err != nil {
			return internal.ErrAuditWriteFailed.WithCause(err)
		}

		newValues := map[string]any{"phase": target}
		if reason != "" {
			newValues["reason"] = reason
		}
		return s.audit.Record(ctx, audit.Entry{
			ActorID:   audit.ActorID(principal.UserID),
			Action:    action,
			Table:     ordersTable,
			RecordID:  o.OrderNumber,
			OldValues: map[string]any{"phase": from},
			NewValues: newValues,
			Outcome:   outcome,
			Reason:    denial,
		})
	})
	if err != nil {
		return s.txError(ctx, "record rejected transition", err)
	}

	s.metrics.Transition(from, string(target), string(outcome))
	s.logger.InfoContext(ctx, "order transition rejected",
		"order_number", o.OrderNumber,
		"from", from,
		"to", target,
		"outcome", outcome,
		"code", cause.Code,
		"user_id", principal.UserID)
	return cause
}

// deny audits an authorization failure that has no transition attached.
func (s *Service) deny(ctx context.Context, principal rbac.Principal, action, recordID string, missing []rbac.Permission) error {
	err := s.audit.Record(ctx, audit.Entry{
		ActorID:  audit.ActorID(principal.UserID),
		Action:   action,
		Table:    ordersTable,
		RecordID: recordID,
		Outcome:  audit.OutcomeDenied,
		Reason:   "missing permissions: " + joinPermissions(missing),
	})
	if err != nil {
		s.metrics.AuditWriteFailed()
		return err
	}
	return internal.ErrForbidden.WithDetails(map[string]any{"missing_permissions": missing})
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

func (s *Service) lookupError(ctx context.Context, err error) error {
	if errors.Is(err, internal.ErrOrderNotFound) {
		return internal.ErrOrderNotFound
	}
	return s.internalError(ctx, "load order", err)
}

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

func actionFor(kind TransitionKind) string {
	switch kind {
	case KindRollback:
		return audit.ActionOrderRollback
	case KindCancel:
		return audit.ActionOrderCancel
	default:
		return audit.ActionOrderTransition
	}
}

func joinPermissions(perms []rbac.Permission) string {
	codes := make([]string, len(perms))
	for i, p := range perms {
		codes[i] = string(p)
	}
	return strings.Join(codes, ",")
}
