package user

import (
	"time"

	errors "github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/core/common/validation"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
)

type AssignRoleDTO struct {
	Role           string     `json:"role"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`
}

func (dto AssignRoleDTO) Validate() *errors.AppError {
	codes := make([]string, 0, len(rbac.AllRoles()))
	for _, r := range rbac.AllRoles() {
		codes = append(codes, string(r))
	}
	v := validation.NewValidator()
	v.Field("role", dto.Role).Required().OneOf(codes, errors.ErrCodeInvalidRole)
	return v.Validate()
}

type RoleAssignmentV1 struct {
	UserID         int64      `json:"user_id"`
	Role           rbac.Role  `json:"role"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`
	GrantedBy      int64      `json:"granted_by"`
}
