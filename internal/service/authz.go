package service

import (
	"context"
	"fmt"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

// Authorize checks that caller is the owner or an active staff member of
// the clinic. It runs before any queue state is read.
func (s *QueueService) Authorize(ctx context.Context, caller domain.Caller, clinicID string) error {
	if clinicID == "" {
		return domain.ErrMissingClinic
	}
	if caller.System {
		return nil
	}
	role, err := s.role(ctx, caller, clinicID)
	if err != nil {
		return err
	}
	if role != domain.RoleOwner && role != domain.RoleStaff {
		return domain.ErrNotClinicStaff
	}
	return nil
}

// authorizeOwner is the stricter check for privileged operations.
func (s *QueueService) authorizeOwner(ctx context.Context, caller domain.Caller, clinicID string) error {
	if clinicID == "" {
		return domain.ErrMissingClinic
	}
	if caller.System {
		return nil
	}
	role, err := s.role(ctx, caller, clinicID)
	if err != nil {
		return err
	}
	switch role {
	case domain.RoleOwner:
		return nil
	case domain.RoleStaff:
		return domain.ErrNotClinicOwner
	default:
		return domain.ErrNotClinicStaff
	}
}

func (s *QueueService) role(ctx context.Context, caller domain.Caller, clinicID string) (domain.StaffRole, error) {
	if caller.StaffID == "" {
		return domain.RoleNone, domain.ErrNotClinicStaff
	}
	role, err := s.dir.StaffRole(ctx, clinicID, caller.StaffID)
	if err != nil {
		return domain.RoleNone, fmt.Errorf("resolve staff role: %w", err)
	}
	return role, nil
}
