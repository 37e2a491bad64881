package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/meddevice-orders/internal"
	auditDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/audit"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
	"github.com/oklog/ulid/v2"
)

const auditTable = "audit_log"

type RepositoryAPI interface {
	Insert(ctx context.Context, entry *auditDatamodel.AuditLog) error
	List(ctx context.Context, filter Filter) ([]*auditDatamodel.AuditLog, int64, error)
}

// Recorder is the write side used by every security-relevant operation. A
// non-nil error means the entry is not durable and the caller must abort.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

type Service struct {
	repo   RepositoryAPI
	engine *rbac.Engine
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo RepositoryAPI, engine *rbac.Engine, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		engine: engine,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record writes entry through the transaction carried by ctx, if any. Every
// failure, including encoding, is reported as AuditWriteFailed.
func (s *Service) Record(ctx context.Context, entry Entry) error {
	oldValues, err := encodeValues(entry.OldValues)
	if err != nil {
		return s.fail(ctx, entry, err)
	}
	newValues, err := encodeValues(entry.NewValues)
	if err != nil {
		return s.fail(ctx, entry, err)
	}

	row := &auditDatamodel.AuditLog{
		ID:            ulid.Make().String(),
		ActorID:       entry.ActorID,
		Action:        entry.Action,
		ResourceTable: entry.Table,
		RecordID:      entry.RecordID,
		OldValues:     oldValues,
		NewValues:     newValues,
		IP:            internal.ClientIPFromContext(ctx),
		Outcome:       string(entry.Outcome),
		Reason:        entry.Reason,
		Timestamp:     s.now(),
	}

	if err := s.repo.Insert(ctx, row); err != nil {
		return s.fail(ctx, entry, err)
	}
	return nil
}

func (s *Service) fail(ctx context.Context, entry Entry, cause error) error {
	s.logger.ErrorContext(ctx, "audit write failed",
		"action", entry.Action,
		"table", entry.Table,
		"record_id", entry.RecordID,
		"outcome", entry.Outcome,
		"error", cause)
	return internal.ErrAuditWriteFailed.WithCause(cause)
}

// List returns audit records newest first. Requires AUDIT_VIEW; a denial is
// itself recorded, and fails with AuditWriteFailed if that write does.
func (s *Service) List(ctx context.Context, principal rbac.Principal, filter Filter) ([]*Record, int64, error) {
	if !s.engine.Authorize(principal, rbac.PermAuditView) {
		s.logger.WarnContext(ctx, "audit list denied", "user_id", principal.UserID)
		err := s.Record(ctx, Entry{
			ActorID: ActorID(principal.UserID),
			Action:  ActionAuditList,
			Table:   auditTable,
			Outcome: OutcomeDenied,
			Reason:  "missing permission " + string(rbac.PermAuditView),
		})
		if err != nil {
			return nil, 0, err
		}
		return nil, 0, internal.ErrForbidden
	}

	filter.Normalize()
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, internal.NewInternalError("failed to list audit log", err)
	}

	out := make([]*Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromDataModel(row))
	}
	return out, total, nil
}

func encodeValues(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode audit values: %w", err)
	}
	return string(b), nil
}

// ActorID is a helper for the common case of a known acting user.
func ActorID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
