package order

import (
	errors "github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/core/common/validation"
)

// CreateOrderDTO represents the request payload for creating an order
type CreateOrderDTO struct {
	Priority     string `json:"priority"`
	CustomerName string `json:"customer_name"`
	DeviceType   string `json:"device_type"`
	Notes        string `json:"notes,omitempty"`
	AssignedTo   *int64 `json:"assigned_to,omitempty"`
}

func (dto CreateOrderDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("priority", dto.Priority).Required().OneOf(Priorities(), errors.ErrCodeInvalidPriority)
	v.Field("customer_name", dto.CustomerName).Required().MaxLength(200)
	v.Field("device_type", dto.DeviceType).Required().MaxLength(100)
	v.Field("notes", dto.Notes).MaxLength(2000)
	if dto.AssignedTo != nil {
		v.Field("assigned_to", *dto.AssignedTo).MinInt(1, errors.ErrCodeValidationFailed)
	}
	return v.Validate()
}

// TransitionDTO asks for a move to Target. Reason is mandatory for rollbacks.
type TransitionDTO struct {
	Target string `json:"target_phase"`
	Reason string `json:"reason,omitempty"`
}

func (dto TransitionDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("target_phase", dto.Target).Required().OneOf(phaseCodes(), errors.ErrCodeInvalidPhase)
	return v.Validate()
}

type ListOrdersFilter struct {
	Phase  string
	Limit  int
	Offset int
}

func (f *ListOrdersFilter) Normalize() *errors.AppError {
	if f.Phase != "" {
		if _, ok := ParsePhase(f.Phase); !ok {
			return errors.NewValidationFieldError("phase", "unknown phase", errors.ErrCodeInvalidPhase)
		}
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return nil
}

type AvailableTransitionV1 struct {
	Target         Phase          `json:"target_phase"`
	Kind           TransitionKind `json:"kind"`
	RequiresReason bool           `json:"requires_reason"`
}

type OrderListV1 struct {
	Orders []*Order `json:"orders"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

func phaseCodes() []string {
	phases := AllPhases()
	out := make([]string, len(phases))
	for i, p := range phases {
		out[i] = string(p)
	}
	return out
}
