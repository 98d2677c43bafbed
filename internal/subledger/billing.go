package subledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/societyhub/societyhub/internal/shared"
	"github.com/societyhub/societyhub/internal/subledger/formula"
)

// BillTarget is one resident a bill is raised for.
type BillTarget struct {
	ResidentID        int64              `json:"resident_id"`
	UnitNumber        string             `json:"unit_number"`
	UnitUsage         float64            `json:"unit_usage,omitempty"`
	AdditionalCharges []AdditionalCharge `json:"additional_charges,omitempty"`
}

// BillingPeriod identifies the billing cycle a bill belongs to.
type BillingPeriod struct {
	Key       string    `json:"key"`
	IssueDate time.Time `json:"issue_date"`
}

// BulkFailure explains why one target of a bulk run produced no bill.
type BulkFailure struct {
	ResidentID int64  `json:"resident_id"`
	UnitNumber string `json:"unit_number"`
	Reason     string `json:"reason"`
}

// BulkResult reports a best-effort bulk run. Successful bills are kept
// regardless of failures elsewhere in the batch.
type BulkResult struct {
	Success []Bill        `json:"success"`
	Failed  []BulkFailure `json:"failed"`
}

// GenerateBillInput requests one bill.
type GenerateBillInput struct {
	BillHeadID int64
	Target     BillTarget
	Period     BillingPeriod
	ActorID    int64
}

// GenerateBulkInput requests bills for many residents under one head.
type GenerateBulkInput struct {
	BillHeadID int64
	Targets    []BillTarget
	Period     BillingPeriod
	ActorID    int64
}

// CancelBillInput identifies a bill to cancel.
type CancelBillInput struct {
	BillID  int64
	ActorID int64
	Remarks string
}

// PeriodFor derives the billing period containing date for a frequency.
func PeriodFor(freq Frequency, date time.Time) BillingPeriod {
	d := truncateDay(date)
	var key string
	switch freq {
	case FrequencyQuarterly:
		key = fmt.Sprintf("%d-Q%d", d.Year(), (int(d.Month())-1)/3+1)
	case FrequencyHalfYearly:
		key = fmt.Sprintf("%d-H%d", d.Year(), (int(d.Month())-1)/6+1)
	case FrequencyYearly:
		key = fmt.Sprintf("%d", d.Year())
	case FrequencyOneTime:
		key = d.Format("2006-01-02")
	default:
		key = d.Format("2006-01")
	}
	return BillingPeriod{Key: key, IssueDate: d}
}

// GenerateBill raises one bill and its sales voucher atomically.
func (s *Service) GenerateBill(ctx context.Context, in GenerateBillInput) (Bill, error) {
	if err := requireActor(in.ActorID); err != nil {
		return Bill{}, err
	}
	var bill Bill
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		head, err := loadActiveHead(ctx, tx, in.BillHeadID)
		if err != nil {
			return err
		}
		period := s.resolvePeriod(head, in.Period)
		bill, err = s.generateWithRetry(ctx, tx, head, in.Target, period, in.ActorID)
		return err
	})
	if err != nil {
		s.record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "bill.generate",
			Status:   shared.AuditFailure,
			Entity:   "bill_head",
			EntityID: idString(in.BillHeadID),
			Meta:     map[string]any{"resident_id": in.Target.ResidentID, "error": err.Error()},
		})
		return Bill{}, err
	}
	s.metrics.BillsGenerated(string(bill.Kind), 1)
	s.bumpBalances(ctx)
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "bill.generate",
		Entity:   billKinds[bill.Kind].auditEntity,
		EntityID: idString(bill.ID),
		Meta:     map[string]any{"number": bill.BillNumber, "total": bill.TotalAmount, "period": bill.PeriodKey},
	})
	return bill, nil
}

// GenerateBulk raises bills for every target. Each target is atomic on its
// own; failures are reported without undoing other targets.
func (s *Service) GenerateBulk(ctx context.Context, in GenerateBulkInput) (BulkResult, error) {
	if err := requireActor(in.ActorID); err != nil {
		return BulkResult{}, err
	}
	if len(in.Targets) == 0 {
		return BulkResult{}, invalid("targets", "at least one target required")
	}
	var (
		result BulkResult
		head   BillHead
	)
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		head, err = loadActiveHead(ctx, tx, in.BillHeadID)
		if err != nil {
			return err
		}
		result, err = s.generateBatch(ctx, tx, head, in.Targets, s.resolvePeriod(head, in.Period), in.ActorID)
		return err
	})
	if err != nil {
		return BulkResult{}, err
	}
	s.metrics.BillsGenerated(string(head.Kind), len(result.Success))
	if len(result.Success) > 0 {
		s.bumpBalances(ctx)
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "bill.generate_bulk",
		Entity:   "bill_head",
		EntityID: idString(head.ID),
		Meta:     map[string]any{"created": len(result.Success), "failed": len(result.Failed)},
	})
	return result, nil
}

// GenerateDue runs every bill schedule due today. A schedule already run
// for the current period is skipped, so repeated invocations are harmless.
func (s *Service) GenerateDue(ctx context.Context) ([]GenerationRun, error) {
	now := s.now()
	lastDay := now.AddDate(0, 0, 1).Month() != now.Month()
	var schedules []BillSchedule
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		schedules, err = tx.ListDueSchedules(ctx, now.Day(), lastDay)
		return err
	})
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		runs []GenerationRun
		g    errgroup.Group
	)
	g.SetLimit(s.scheduleWorkers)
	for _, sch := range schedules {
		g.Go(func() error {
			run, ran, err := s.runSchedule(ctx, sch, now)
			if err != nil {
				s.logger.Error("scheduled generation failed",
					slog.Int64("schedule_id", sch.ID),
					slog.Int64("bill_head_id", sch.BillHeadID),
					slog.Any("error", err),
				)
				return fmt.Errorf("schedule %d: %w", sch.ID, err)
			}
			if !ran {
				return nil
			}
			mu.Lock()
			runs = append(runs, run)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	if len(runs) > 0 {
		s.bumpBalances(ctx)
	}
	return runs, err
}

func (s *Service) runSchedule(ctx context.Context, sch BillSchedule, now time.Time) (GenerationRun, bool, error) {
	var (
		run  GenerationRun
		ran  bool
		kind BillKind
	)
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		head, err := tx.GetBillHead(ctx, sch.BillHeadID)
		if err != nil {
			return err
		}
		if !head.IsActive {
			return nil
		}
		kind = head.Kind
		period := PeriodFor(head.Frequency, now)
		run, err = tx.InsertGenerationRun(ctx, GenerationRun{
			SocietyID:  sch.SocietyID,
			BillHeadID: head.ID,
			PeriodKey:  period.Key,
			RanAt:      now,
		})
		if errors.Is(err, ErrDuplicate) {
			return nil
		}
		if err != nil {
			return err
		}
		targets, err := tx.ListScheduleTargets(ctx, sch.ID)
		if err != nil {
			return err
		}
		result, err := s.generateBatch(ctx, tx, head, targets, period, SystemActorID)
		if err != nil {
			return err
		}
		for _, f := range result.Failed {
			s.logger.Warn("scheduled bill skipped",
				slog.Int64("bill_head_id", head.ID),
				slog.Int64("resident_id", f.ResidentID),
				slog.String("reason", f.Reason),
			)
		}
		run.Created = len(result.Success)
		run.Failed = len(result.Failed)
		ran = true
		return tx.UpdateGenerationRun(ctx, run)
	})
	if err != nil || !ran {
		return GenerationRun{}, false, err
	}
	s.metrics.BillsGenerated(string(kind), run.Created)
	s.record(ctx, shared.AuditLog{
		ActorID:  SystemActorID,
		Action:   "bill.generate_due",
		Entity:   "bill_head",
		EntityID: idString(run.BillHeadID),
		Meta:     map[string]any{"period": run.PeriodKey, "created": run.Created, "failed": run.Failed},
	})
	return run, true, nil
}

// CancelBill cancels an unpaid bill by reversing its sales voucher.
func (s *Service) CancelBill(ctx context.Context, in CancelBillInput) (Bill, error) {
	if err := requireActor(in.ActorID); err != nil {
		return Bill{}, err
	}
	var bill Bill
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBillForUpdate(ctx, in.BillID)
		if err != nil {
			return err
		}
		if b.Status == BillCancelled {
			return fmt.Errorf("%w: bill %s is already cancelled", ErrInvalidStateTransition, b.BillNumber)
		}
		if b.PaidAmount > 0 || b.PenaltyPaid > 0 {
			return fmt.Errorf("%w: bill %s has received %s", ErrInvalidStateTransition, b.BillNumber, formatINR(b.PaidAmount+b.PenaltyPaid))
		}
		vouchers, err := tx.ListVouchersByReference(ctx, RefBill, b.ID)
		if err != nil {
			return err
		}
		for _, v := range vouchers {
			if v.Type != VoucherSales || v.Status != VoucherActive {
				continue
			}
			if _, _, err := s.cancelVoucher(ctx, tx, v.ID, in.ActorID, in.Remarks); err != nil {
				return err
			}
		}
		bill, err = tx.GetBill(ctx, b.ID)
		if err != nil {
			return err
		}
		if bill.Status != BillCancelled {
			now := s.now()
			actor := in.ActorID
			bill.Status = BillCancelled
			bill.CancelledBy = &actor
			bill.CancelledAt = &now
			bill.CancelRemarks = in.Remarks
			return s.saveBill(ctx, tx, &bill)
		}
		return nil
	})
	if err != nil {
		return Bill{}, err
	}
	s.bumpBalances(ctx)
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "bill.cancel",
		Entity:   billKinds[bill.Kind].auditEntity,
		EntityID: idString(bill.ID),
		Meta:     map[string]any{"number": bill.BillNumber, "remarks": in.Remarks},
	})
	return bill, nil
}

// GetBill loads a bill, refreshing its penalty and status.
func (s *Service) GetBill(ctx context.Context, id int64) (Bill, error) {
	var bill Bill
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bill, err = tx.GetBillForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return s.refreshBill(ctx, tx, &bill)
	})
	return bill, err
}

// ListBills returns bills matching filter with penalties and statuses
// evaluated at the current time.
func (s *Service) ListBills(ctx context.Context, filter BillFilter) ([]Bill, error) {
	var out []Bill
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bills, err := tx.ListBills(ctx, filter)
		if err != nil {
			return err
		}
		now := s.now()
		heads := make(map[int64]BillHead)
		for i := range bills {
			head, ok := heads[bills[i].BillHeadID]
			if !ok {
				head, err = tx.GetBillHead(ctx, bills[i].BillHeadID)
				if err != nil {
					return err
				}
				heads[head.ID] = head
			}
			refreshPenalty(&bills[i], head.LatePayment, now)
			recomputeBill(&bills[i], now)
		}
		out = bills
		return nil
	})
	return out, err
}

// refreshBill recomputes the penalty and status and persists any change.
func (s *Service) refreshBill(ctx context.Context, tx TxRepository, b *Bill) error {
	head, err := tx.GetBillHead(ctx, b.BillHeadID)
	if err != nil {
		return err
	}
	now := s.now()
	before := b.Status
	changed := refreshPenalty(b, head.LatePayment, now)
	recomputeBill(b, now)
	if !changed && b.Status == before {
		return nil
	}
	return s.saveBill(ctx, tx, b)
}

func (s *Service) saveBill(ctx context.Context, tx TxRepository, b *Bill) error {
	now := s.now()
	recomputeBill(b, now)
	b.UpdatedAt = now
	return tx.UpdateBill(ctx, *b)
}

func (s *Service) resolvePeriod(head BillHead, p BillingPeriod) BillingPeriod {
	if p.IssueDate.IsZero() {
		p.IssueDate = s.now()
	}
	p.IssueDate = truncateDay(p.IssueDate)
	if strings.TrimSpace(p.Key) == "" {
		p.Key = PeriodFor(head.Frequency, p.IssueDate).Key
	}
	return p
}

func (s *Service) generateBatch(ctx context.Context, tx TxRepository, head BillHead, targets []BillTarget, period BillingPeriod, actorID int64) (BulkResult, error) {
	result := BulkResult{Success: []Bill{}, Failed: []BulkFailure{}}
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return BulkResult{}, err
		}
		bill, err := s.generateWithRetry(ctx, tx, head, target, period, actorID)
		if err != nil {
			if errors.Is(err, ErrTransactionAborted) {
				return BulkResult{}, err
			}
			result.Failed = append(result.Failed, BulkFailure{
				ResidentID: target.ResidentID,
				UnitNumber: target.UnitNumber,
				Reason:     failureReason(err, period),
			})
			continue
		}
		result.Success = append(result.Success, bill)
	}
	return result, nil
}

func failureReason(err error, period BillingPeriod) string {
	if errors.Is(err, ErrDuplicate) {
		return "already generated for period " + period.Key
	}
	return err.Error()
}

func (s *Service) generateWithRetry(ctx context.Context, tx TxRepository, head BillHead, target BillTarget, period BillingPeriod, actorID int64) (Bill, error) {
	var bill Bill
	err := s.retryNumbered(ctx, tx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bill, err = s.generateItem(ctx, tx, head, target, period, actorID)
		return err
	})
	return bill, err
}

// generateItem computes the charge, inserts the bill and posts its sales voucher.
func (s *Service) generateItem(ctx context.Context, tx TxRepository, head BillHead, target BillTarget, period BillingPeriod, actorID int64) (Bill, error) {
	kind, err := lookupBillKind(head.Kind)
	if err != nil {
		return Bill{}, err
	}
	switch {
	case target.ResidentID <= 0:
		return Bill{}, invalid("resident_id", "required")
	case strings.TrimSpace(target.UnitNumber) == "":
		return Bill{}, invalid("unit_number", "required")
	case target.UnitUsage < 0:
		return Bill{}, invalid("unit_usage", "must not be negative")
	case kind.needsUsage && head.CalculationType != CalcFixed && target.UnitUsage == 0:
		return Bill{}, invalid("unit_usage", "required for %s", strings.ToLower(kind.label))
	}
	if head.Accounting.IncomeLedgerID == 0 || head.Accounting.ReceivableLedgerID == 0 {
		return Bill{}, fmt.Errorf("%w: bill head %s has no income or receivable ledger", ErrMissingLedgerConfig, head.Code)
	}

	base, err := s.baseAmount(ctx, head, target, period)
	if err != nil {
		return Bill{}, err
	}
	if base < 0 {
		return Bill{}, invalid("base_amount", "must not be negative, got %.2f", base)
	}
	gst := computeGST(head.GST, base)
	if gst.Total > 0 && head.Accounting.GSTLedgerID == nil {
		return Bill{}, fmt.Errorf("%w: GST ledger not found for category %s/%s", ErrMissingLedgerConfig, head.Category, head.SubCategory)
	}
	parts := []float64{base, gst.Total}
	charges := make([]AdditionalCharge, 0, len(target.AdditionalCharges))
	for i, c := range target.AdditionalCharges {
		if strings.TrimSpace(c.Name) == "" {
			return Bill{}, invalid(fmt.Sprintf("additional_charges[%d].name", i), "required")
		}
		if c.Amount <= 0 {
			return Bill{}, invalid(fmt.Sprintf("additional_charges[%d].amount", i), "must be greater than zero")
		}
		c.Amount = round2(c.Amount)
		charges = append(charges, c)
		parts = append(parts, c.Amount)
	}
	total := sumMoney(parts...)
	if total <= 0 {
		return Bill{}, invalid("total_amount", "must be greater than zero")
	}

	number, err := s.nextBillNumber(ctx, tx, head.SocietyID, head.Code)
	if err != nil {
		return Bill{}, err
	}
	now := s.now()
	bill := Bill{
		SocietyID:          head.SocietyID,
		Kind:               head.Kind,
		BillNumber:         number,
		BillHeadID:         head.ID,
		ResidentID:         target.ResidentID,
		UnitNumber:         strings.TrimSpace(target.UnitNumber),
		PeriodKey:          period.Key,
		UnitUsage:          target.UnitUsage,
		IssueDate:          period.IssueDate,
		DueDate:            period.IssueDate.AddDate(0, 0, head.DueDays),
		BaseAmount:         base,
		GST:                gst,
		AdditionalCharges:  charges,
		TotalAmount:        total,
		Status:             BillPending,
		ReceivableLedgerID: head.Accounting.ReceivableLedgerID,
		IncomeLedgerID:     head.Accounting.IncomeLedgerID,
		JournalEntries:     []int64{},
		PaymentHistory:     []PaymentRecord{},
		CreatedBy:          actorID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	recomputeBill(&bill, now)
	bill, err = tx.InsertBill(ctx, bill)
	if err != nil {
		return Bill{}, err
	}

	entries := salesEntries(head, bill)
	credits := make([]float64, 0, len(entries))
	for _, e := range entries {
		if e.Type == Credit {
			credits = append(credits, e.Amount)
		}
	}
	if !moneyEqual(sumMoney(credits...), total) {
		return Bill{}, fmt.Errorf("%w: credits %.2f do not match bill total %.2f", ErrUnbalancedVoucher, sumMoney(credits...), total)
	}
	voucherNumber, err := s.nextVoucherNumber(ctx, tx, head.SocietyID, journalPrefix(head.Code, period.IssueDate))
	if err != nil {
		return Bill{}, err
	}
	headID := head.ID
	voucher, err := s.postVoucher(ctx, tx, Voucher{
		SocietyID:     head.SocietyID,
		VoucherNumber: voucherNumber,
		Type:          VoucherSales,
		Date:          period.IssueDate,
		ReferenceType: RefBill,
		ReferenceID:   bill.ID,
		BillHeadID:    &headID,
		SourceID:      sourceID("bill", bill.ID),
		Narration:     fmt.Sprintf("%s %s for unit %s, period %s", kind.label, bill.BillNumber, bill.UnitNumber, period.Key),
		Entries:       entries,
		CreatedBy:     actorID,
	})
	if err != nil {
		return Bill{}, err
	}
	bill.JournalEntries = append(bill.JournalEntries, voucher.ID)
	if err := s.saveBill(ctx, tx, &bill); err != nil {
		return Bill{}, err
	}
	return bill, nil
}

func salesEntries(head BillHead, bill Bill) []VoucherEntry {
	entries := []VoucherEntry{{
		LedgerID:    bill.ReceivableLedgerID,
		Type:        Debit,
		Amount:      bill.TotalAmount,
		Description: "Receivable for " + bill.BillNumber,
	}}
	if bill.BaseAmount > 0 {
		entries = append(entries, VoucherEntry{
			LedgerID:    bill.IncomeLedgerID,
			Type:        Credit,
			Amount:      bill.BaseAmount,
			Description: head.Name,
		})
	}
	if head.Accounting.GSTLedgerID != nil {
		for _, line := range []struct {
			name   string
			amount float64
		}{{"CGST", bill.GST.CGST}, {"SGST", bill.GST.SGST}, {"IGST", bill.GST.IGST}} {
			if line.amount <= 0 {
				continue
			}
			entries = append(entries, VoucherEntry{
				LedgerID:    *head.Accounting.GSTLedgerID,
				Type:        Credit,
				Amount:      line.amount,
				Description: line.name + " on " + bill.BillNumber,
			})
		}
	}
	for _, c := range bill.AdditionalCharges {
		ledger := bill.IncomeLedgerID
		if c.LedgerID != nil {
			ledger = *c.LedgerID
		}
		entries = append(entries, VoucherEntry{
			LedgerID:    ledger,
			Type:        Credit,
			Amount:      c.Amount,
			Description: c.Name,
		})
	}
	return entries
}

func computeGST(cfg GSTConfig, base float64) GSTDetails {
	if !cfg.IsApplicable {
		return GSTDetails{}
	}
	g := GSTDetails{
		CGST: percentOf(base, cfg.CGST),
		SGST: percentOf(base, cfg.SGST),
		IGST: percentOf(base, cfg.IGST),
	}
	g.Total = sumMoney(g.CGST, g.SGST, g.IGST)
	return g
}

func (s *Service) baseAmount(ctx context.Context, head BillHead, target BillTarget, period BillingPeriod) (float64, error) {
	switch head.CalculationType {
	case CalcFixed:
		return round2(head.FixedAmount), nil
	case CalcPerUnit:
		return mulMoney(target.UnitUsage, head.PerUnitRate), nil
	case CalcFormula:
		v, err := formula.Evaluate(head.Formula, formula.Vars{
			formula.VarUnitUsage: decimal.NewFromFloat(target.UnitUsage),
			formula.VarRate:      decimal.NewFromFloat(head.PerUnitRate),
		})
		if err != nil {
			return 0, fmt.Errorf("%w: formula: %w", ErrValidation, err)
		}
		return v.Round(2).InexactFloat64(), nil
	case CalcCustom:
		fn, ok := s.charge(head.CustomCharge)
		if !ok {
			return 0, invalid("custom_charge", "charge %q is not registered", head.CustomCharge)
		}
		v, err := fn(ctx, head, target, period)
		if err != nil {
			return 0, err
		}
		return round2(v), nil
	}
	return 0, invalid("calculation_type", "unknown calculation type %q", head.CalculationType)
}

func loadActiveHead(ctx context.Context, tx TxRepository, id int64) (BillHead, error) {
	head, err := tx.GetBillHead(ctx, id)
	if err != nil {
		return BillHead{}, err
	}
	if !head.IsActive {
		return BillHead{}, invalid("bill_head_id", "bill head %s is inactive", head.Code)
	}
	return head, nil
}
