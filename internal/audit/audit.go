package audit

import (
	"encoding/json"
	"time"

	auditDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/audit"
)

type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
	OutcomeFailed  Outcome = "failed"
)

const (
	ActionLogin                = "auth.login"
	ActionPasswordResetRequest = "auth.password_reset_request"
	ActionPasswordResetConfirm = "auth.password_reset_confirm"
	ActionPasswordChange       = "auth.password_change"
	ActionOrderCreate          = "order.create"
	ActionOrderTransition      = "order.transition"
	ActionOrderRollback        = "order.rollback"
	ActionOrderCancel          = "order.cancel"
	ActionRoleAssign           = "user.role_assign"
	ActionAuditList            = "audit.list"
)

// Entry is what callers hand to the recorder. OldValues and NewValues are
// JSON encoded on write.
type Entry struct {
	ActorID   *int64
	Action    string
	Table     string
	RecordID  string
	OldValues any
	NewValues any
	Outcome   Outcome
	Reason    string
}

// Record is a stored audit entry.
type Record struct {
	ID        string          `json:"id"`
	ActorID   *int64          `json:"actor_id,omitempty"`
	Action    string          `json:"action"`
	Table     string          `json:"table_name"`
	RecordID  string          `json:"record_id,omitempty"`
	OldValues json.RawMessage `json:"old_values,omitempty"`
	NewValues json.RawMessage `json:"new_values,omitempty"`
	IP        string          `json:"ip,omitempty"`
	Outcome   Outcome         `json:"outcome"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	ActorID  *int64
	Action   string
	Table    string
	RecordID string
	Outcome  string
	Since    *time.Time
	Until    *time.Time
	Page     int
	PageSize int
}

func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 200 {
		f.PageSize = 50
	}
}

func (f Filter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

func FromDataModel(m *auditDatamodel.AuditLog) *Record {
	r := &Record{
		ID:        m.ID,
		ActorID:   m.ActorID,
		Action:    m.Action,
		Table:     m.ResourceTable,
		RecordID:  m.RecordID,
		IP:        m.IP,
		Outcome:   Outcome(m.Outcome),
		Reason:    m.Reason,
		Timestamp: m.Timestamp,
	}
	if m.OldValues != "" {
		r.OldValues = json.RawMessage(m.OldValues)
	}
	if m.NewValues != "" {
		r.NewValues = json.RawMessage(m.NewValues)
	}
	return r
}
