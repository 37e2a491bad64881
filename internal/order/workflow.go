package order

import "github.com/frahmantamala/meddevice-orders/internal/rbac"

type TransitionKind string

const (
	KindForward  TransitionKind = "forward"
	KindRollback TransitionKind = "rollback"
	KindCancel   TransitionKind = "cancel"
)

// forwardPermissions maps each forward edge, keyed by its source phase, to
// the permissions a principal must hold all of.
var forwardPermissions = map[Phase][]rbac.Permission{
	PhaseDraft:          {rbac.PermOrderConfigure},
	PhaseConfiguration:  {rbac.PermOrderSubmitApproval},
	PhaseApproval:       {rbac.PermBOMGenerate, rbac.PermProductionSchedule},
	PhaseProduction:     {rbac.PermProductionComplete},
	PhaseQualityControl: {rbac.PermQCApprove},
	PhasePackaging:      {rbac.PermShippingDispatch},
	PhaseShipping:       {rbac.PermDeliveryConfirm},
}

// Transition is one legal edge of the lifecycle graph.
type Transition struct {
	From     Phase
	To       Phase
	Kind     TransitionKind
	Required []rbac.Permission
}

// RequiresBOM reports whether the edge is gated on BOM generation.
func (t Transition) RequiresBOM() bool {
	return t.Kind == KindForward && t.From == PhaseApproval
}

// RequiresReason reports whether the caller must justify the edge.
func (t Transition) RequiresReason() bool {
	return t.Kind == KindRollback
}

func Successor(p Phase) (Phase, bool) {
	i := p.index()
	if i < 0 || i+1 >= len(lifecycle) {
		return "", false
	}
	return lifecycle[i+1], true
}

// Predecessor is the rollback target of p. DRAFT and terminal phases have
// none.
func Predecessor(p Phase) (Phase, bool) {
	if p.Terminal() {
		return "", false
	}
	i := p.index()
	if i <= 0 {
		return "", false
	}
	return lifecycle[i-1], true
}

// PlanTransition classifies from -> to. It returns false for every edge that
// is not the immediate successor, the immediate predecessor or a cancel from
// a non-terminal phase.
func PlanTransition(from, to Phase) (Transition, bool) {
	if from.Terminal() {
		return Transition{}, false
	}
	if to == PhaseCancelled {
		return Transition{From: from, To: to, Kind: KindCancel, Required: []rbac.Permission{rbac.PermOrderCancel}}, true
	}
	if next, ok := Successor(from); ok && next == to {
		return Transition{From: from, To: to, Kind: KindForward, Required: forwardPermissions[from]}, true
	}
	if prev, ok := Predecessor(from); ok && prev == to {
		return Transition{From: from, To: to, Kind: KindRollback, Required: []rbac.Permission{rbac.PermOrderRollback}}, true
	}
	return Transition{}, false
}

// Candidates lists the legal edges out of from, forward first.
func Candidates(from Phase) []Transition {
	var out []Transition
	targets := make([]Phase, 0, 3)
	if next, ok := Successor(from); ok {
		targets = append(targets, next)
	}
	if prev, ok := Predecessor(from); ok {
		targets = append(targets, prev)
	}
	targets = append(targets, PhaseCancelled)
	for _, to := range targets {
		if t, ok := PlanTransition(from, to); ok {
			out = append(out, t)
		}
	}
	return out
}
