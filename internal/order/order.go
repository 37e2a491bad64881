package order

import (
	"time"

	orderDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/order"
)

type Phase string

const (
	PhaseDraft          Phase = "DRAFT"
	PhaseConfiguration  Phase = "CONFIGURATION"
	PhaseApproval       Phase = "APPROVAL"
	PhaseProduction     Phase = "PRODUCTION"
	PhaseQualityControl Phase = "QUALITY_CONTROL"
	PhasePackaging      Phase = "PACKAGING"
	PhaseShipping       Phase = "SHIPPING"
	PhaseDelivered      Phase = "DELIVERED"
	PhaseCancelled      Phase = "CANCELLED"
)

// lifecycle is the forward ordering. CANCELLED sits outside it.
var lifecycle = []Phase{
	PhaseDraft,
	PhaseConfiguration,
	PhaseApproval,
	PhaseProduction,
	PhaseQualityControl,
	PhasePackaging,
	PhaseShipping,
	PhaseDelivered,
}

// AllPhases lists every storable phase, lifecycle order first.
func AllPhases() []Phase {
	out := make([]Phase, 0, len(lifecycle)+1)
	out = append(out, lifecycle...)
	return append(out, PhaseCancelled)
}

func ParsePhase(s string) (Phase, bool) {
	for _, p := range AllPhases() {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Terminal phases accept no transition at all.
func (p Phase) Terminal() bool {
	return p == PhaseDelivered || p == PhaseCancelled
}

func (p Phase) index() int {
	for i, q := range lifecycle {
		if q == p {
			return i
		}
	}
	return -1
}

type Priority string

const (
	PriorityStandard  Priority = "standard"
	PriorityRush      Priority = "rush"
	PriorityEmergency Priority = "emergency"
)

func Priorities() []string {
	return []string{string(PriorityStandard), string(PriorityRush), string(PriorityEmergency)}
}

type Order struct {
	ID           int64      `json:"id"`
	OrderNumber  string     `json:"order_number"`
	Phase        Phase      `json:"current_phase"`
	Priority     Priority   `json:"priority"`
	CustomerName string     `json:"customer_name"`
	DeviceType   string     `json:"device_type"`
	Notes        string     `json:"notes,omitempty"`
	AssignedTo   *int64     `json:"assigned_to,omitempty"`
	CreatedBy    int64      `json:"created_by"`
	Version      int64      `json:"version"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type TransitionRecord struct {
	ID        int64     `json:"id"`
	FromPhase Phase     `json:"from_phase"`
	ToPhase   Phase     `json:"to_phase"`
	ActorID   int64     `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
}

func FromDataModel(o *orderDatamodel.Order) *Order {
	return &Order{
		ID:           o.ID,
		OrderNumber:  o.OrderNumber,
		Phase:        Phase(o.CurrentPhase),
		Priority:     Priority(o.Priority),
		CustomerName: o.CustomerName,
		DeviceType:   o.DeviceType,
		Notes:        o.Notes,
		AssignedTo:   o.AssignedTo,
		CreatedBy:    o.CreatedBy,
		Version:      o.Version,
		CancelledAt:  o.CancelledAt,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func FromDataModelSlice(orders []*orderDatamodel.Order) []*Order {
	result := make([]*Order, len(orders))
	for i, o := range orders {
		result[i] = FromDataModel(o)
	}
	return result
}

func TransitionFromDataModel(r *orderDatamodel.PhaseTransitionRecord) *TransitionRecord {
	return &TransitionRecord{
		ID:        r.ID,
		FromPhase: Phase(r.FromPhase),
		ToPhase:   Phase(r.ToPhase),
		ActorID:   r.ActorID,
		Timestamp: r.Timestamp,
		Outcome:   r.Outcome,
		Reason:    r.Reason,
	}
}
