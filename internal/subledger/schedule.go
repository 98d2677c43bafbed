package subledger

import (
	"context"

	"github.com/societyhub/societyhub/internal/shared"
)

// CreateScheduleInput registers a bill head for automatic generation.
type CreateScheduleInput struct {
	SocietyID  int64
	BillHeadID int64
	DayOfMonth int
	Targets    []BillTarget
	ActorID    int64
}

// CreateSchedule stores a bill schedule and its resident roster.
func (s *Service) CreateSchedule(ctx context.Context, in CreateScheduleInput) (BillSchedule, error) {
	if err := requireActor(in.ActorID); err != nil {
		return BillSchedule{}, err
	}
	switch {
	case in.DayOfMonth < 1 || in.DayOfMonth > 31:
		return BillSchedule{}, invalid("day_of_month", "must be between 1 and 31")
	case len(in.Targets) == 0:
		return BillSchedule{}, invalid("targets", "at least one target required")
	}
	seen := make(map[int64]bool, len(in.Targets))
	for _, t := range in.Targets {
		if t.ResidentID <= 0 {
			return BillSchedule{}, invalid("targets", "resident_id required")
		}
		if seen[t.ResidentID] {
			return BillSchedule{}, invalid("targets", "resident %d listed twice", t.ResidentID)
		}
		seen[t.ResidentID] = true
	}
	var created BillSchedule
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		head, err := loadActiveHead(ctx, tx, in.BillHeadID)
		if err != nil {
			return err
		}
		if head.SocietyID != in.SocietyID {
			return ErrBillHeadNotFound
		}
		created, err = tx.InsertSchedule(ctx, BillSchedule{
			SocietyID:  head.SocietyID,
			BillHeadID: head.ID,
			DayOfMonth: in.DayOfMonth,
			IsActive:   true,
		}, in.Targets)
		return err
	})
	if err != nil {
		return BillSchedule{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "schedule.create",
		Entity:   "bill_schedule",
		EntityID: idString(created.ID),
		Meta:     map[string]any{"bill_head_id": created.BillHeadID, "day_of_month": created.DayOfMonth, "targets": len(in.Targets)},
	})
	return created, nil
}

// ListSchedules returns a society's bill schedules.
func (s *Service) ListSchedules(ctx context.Context, societyID int64) ([]BillSchedule, error) {
	var out []BillSchedule
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListSchedules(ctx, societyID)
		return err
	})
	return out, err
}

// SocietyIDs lists every society that owns at least one ledger.
func (s *Service) SocietyIDs(ctx context.Context) ([]int64, error) {
	var out []int64
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListSocietyIDs(ctx)
		return err
	})
	return out, err
}
