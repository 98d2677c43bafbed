package subledger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/societyhub/societyhub/internal/shared"
)

const autoApproveRemark = "auto-approved: trusted payment mode"

// RecordPaymentInput captures a payment entered by a maker.
type RecordPaymentInput struct {
	BillID      int64
	Amount      float64
	Mode        PaymentMode
	Reference   string
	PaymentDate time.Time
	MakerID     int64
	Remarks     string
}

// ReviewPaymentInput captures a checker decision or a maker withdrawal.
type ReviewPaymentInput struct {
	PaymentID int64
	ActorID   int64
	Remarks   string
}

func validPaymentMode(m PaymentMode) bool {
	switch m {
	case ModeCash, ModeCheque, ModeBankTransfer, ModeUPI, ModeCard, ModeNetBanking:
		return true
	}
	return false
}

// RecordPayment creates a Pending payment against a bill. Payments made in a
// trusted mode are approved immediately by the system actor.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentInput) (Payment, error) {
	if err := requireActor(in.MakerID); err != nil {
		return Payment{}, err
	}
	if !validPaymentMode(in.Mode) {
		return Payment{}, invalid("payment_mode", "unknown payment mode %q", in.Mode)
	}
	amount := round2(in.Amount)
	if amount <= 0 {
		return Payment{}, invalid("amount", "must be greater than zero")
	}
	var payment Payment
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := tx.GetBillForUpdate(ctx, in.BillID)
		if err != nil {
			return err
		}
		if err := s.refreshBill(ctx, tx, &bill); err != nil {
			return err
		}
		if bill.Status == BillCancelled || bill.Status == BillPaid {
			return fmt.Errorf("%w: bill %s is %s", ErrInvalidStateTransition, bill.BillNumber, strings.ToLower(string(bill.Status)))
		}
		if amount-bill.Outstanding() > 1e-9 {
			return invalid("amount", "%s exceeds outstanding %s", formatINR(amount), formatINR(bill.Outstanding()))
		}
		now := s.now()
		date := in.PaymentDate
		if date.IsZero() {
			date = now
		}
		payment, err = tx.InsertPayment(ctx, Payment{
			SocietyID:   bill.SocietyID,
			BillID:      bill.ID,
			BillKind:    bill.Kind,
			Amount:      amount,
			Mode:        in.Mode,
			Reference:   strings.TrimSpace(in.Reference),
			PaymentDate: date,
			Status:      PaymentPending,
			Maker:       Actor{UserID: in.MakerID, At: now, Remarks: in.Remarks},
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		if !s.trusted[in.Mode] {
			return nil
		}
		payment, err = s.approveTx(ctx, tx, payment, Actor{UserID: SystemActorID, At: now, Remarks: autoApproveRemark})
		return err
	})
	if err != nil {
		return Payment{}, err
	}
	s.metrics.PaymentTransition(string(PaymentPending))
	if payment.Status == PaymentApproved {
		s.metrics.PaymentTransition(string(PaymentApproved))
		s.bumpBalances(ctx)
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  in.MakerID,
		Action:   "payment.record",
		Entity:   "payment",
		EntityID: idString(payment.ID),
		Meta:     map[string]any{"bill_id": payment.BillID, "amount": payment.Amount, "mode": string(payment.Mode), "status": string(payment.Status)},
	})
	return payment, nil
}

// ApprovePayment moves a Pending payment to Approved, posts its receipt
// voucher and applies it to the bill in one transaction.
func (s *Service) ApprovePayment(ctx context.Context, in ReviewPaymentInput) (Payment, error) {
	if err := requireActor(in.ActorID); err != nil {
		return Payment{}, err
	}
	var payment Payment
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPayment(ctx, in.PaymentID)
		if err != nil {
			return err
		}
		if p.Maker.UserID == in.ActorID {
			return ErrSelfApproval
		}
		if p.Status != PaymentPending {
			return fmt.Errorf("%w: payment %d is %s", ErrInvalidStateTransition, p.ID, strings.ToLower(string(p.Status)))
		}
		payment, err = s.approveTx(ctx, tx, p, Actor{UserID: in.ActorID, At: s.now(), Remarks: in.Remarks})
		return err
	})
	if err != nil {
		s.record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "payment.approve",
			Status:   shared.AuditFailure,
			Entity:   "payment",
			EntityID: idString(in.PaymentID),
			Meta:     map[string]any{"error": err.Error()},
		})
		return Payment{}, err
	}
	s.metrics.PaymentTransition(string(PaymentApproved))
	s.bumpBalances(ctx)
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "payment.approve",
		Entity:   "payment",
		EntityID: idString(payment.ID),
		Meta:     map[string]any{"voucher_id": payment.VoucherID, "penalty_component": payment.PenaltyComponent},
	})
	return payment, nil
}

// RejectPayment moves a Pending payment to Rejected. Books are untouched.
func (s *Service) RejectPayment(ctx context.Context, in ReviewPaymentInput) (Payment, error) {
	if err := requireActor(in.ActorID); err != nil {
		return Payment{}, err
	}
	payment, err := s.closePayment(ctx, in, PaymentRejected, func(p Payment) error {
		if p.Maker.UserID == in.ActorID {
			return ErrSelfApproval
		}
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "payment.reject",
		Entity:   "payment",
		EntityID: idString(payment.ID),
		Meta:     map[string]any{"remarks": in.Remarks},
	})
	return payment, nil
}

// CancelPayment lets the maker withdraw a Pending payment.
func (s *Service) CancelPayment(ctx context.Context, in ReviewPaymentInput) (Payment, error) {
	if err := requireActor(in.ActorID); err != nil {
		return Payment{}, err
	}
	payment, err := s.closePayment(ctx, in, PaymentCancelled, func(p Payment) error {
		if p.Maker.UserID != in.ActorID {
			return invalid("actor_id", "only the maker may withdraw a payment")
		}
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "payment.cancel",
		Entity:   "payment",
		EntityID: idString(payment.ID),
		Meta:     map[string]any{"remarks": in.Remarks},
	})
	return payment, nil
}

// GetPayment loads a payment.
func (s *Service) GetPayment(ctx context.Context, id int64) (Payment, error) {
	var p Payment
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		p, err = tx.GetPayment(ctx, id)
		return err
	})
	return p, err
}

// ListPayments returns every payment recorded against a bill.
func (s *Service) ListPayments(ctx context.Context, billID int64) ([]Payment, error) {
	var out []Payment
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListPaymentsByBill(ctx, billID)
		return err
	})
	return out, err
}

func (s *Service) closePayment(ctx context.Context, in ReviewPaymentInput, to PaymentStatus, check func(Payment) error) (Payment, error) {
	var payment Payment
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPayment(ctx, in.PaymentID)
		if err != nil {
			return err
		}
		if err := check(p); err != nil {
			return err
		}
		actor := Actor{UserID: in.ActorID, At: s.now(), Remarks: in.Remarks}
		ok, err := tx.TransitionPayment(ctx, p.ID, PaymentPending, to, actor)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: payment %d is no longer pending", ErrInvalidStateTransition, p.ID)
		}
		p.Status = to
		p.Checker = &actor
		p.UpdatedAt = actor.At
		payment = p
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.metrics.PaymentTransition(string(to))
	return payment, nil
}

// approveTx applies p to its bill. The penalty due is settled first and the
// remainder reduces principal.
func (s *Service) approveTx(ctx context.Context, tx TxRepository, p Payment, checker Actor) (Payment, error) {
	ok, err := tx.TransitionPayment(ctx, p.ID, PaymentPending, PaymentApproved, checker)
	if err != nil {
		return Payment{}, err
	}
	if !ok {
		return Payment{}, fmt.Errorf("%w: payment %d is no longer pending", ErrInvalidStateTransition, p.ID)
	}
	bill, err := tx.GetBillForUpdate(ctx, p.BillID)
	if err != nil {
		return Payment{}, err
	}
	if err := s.refreshBill(ctx, tx, &bill); err != nil {
		return Payment{}, err
	}
	if bill.Status == BillCancelled {
		return Payment{}, fmt.Errorf("%w: bill %s is cancelled", ErrInvalidStateTransition, bill.BillNumber)
	}
	if p.Amount-bill.Outstanding() > 1e-9 {
		return Payment{}, invalid("amount", "%s exceeds outstanding %s", formatINR(p.Amount), formatINR(bill.Outstanding()))
	}
	head, err := tx.GetBillHead(ctx, bill.BillHeadID)
	if err != nil {
		return Payment{}, err
	}
	cash, err := ensureSystemLedger(ctx, tx, bill.SocietyID, p.Mode)
	if err != nil {
		return Payment{}, err
	}

	penaltyPart := round2(math.Min(p.Amount, bill.PenaltyDue()))
	principal := round2(p.Amount - penaltyPart)
	entries := []VoucherEntry{{
		LedgerID:    cash.ID,
		Type:        Debit,
		Amount:      p.Amount,
		Description: string(p.Mode) + " receipt",
	}}
	if principal > 0 {
		entries = append(entries, VoucherEntry{
			LedgerID:    bill.ReceivableLedgerID,
			Type:        Credit,
			Amount:      principal,
			Description: "Settlement of " + bill.BillNumber,
		})
	}
	if penaltyPart > 0 {
		lateFee := bill.IncomeLedgerID
		if head.Accounting.LateFeeIncomeLedgerID != nil {
			lateFee = *head.Accounting.LateFeeIncomeLedgerID
		}
		entries = append(entries, VoucherEntry{
			LedgerID:    lateFee,
			Type:        Credit,
			Amount:      penaltyPart,
			Description: "Late fee on " + bill.BillNumber,
		})
	}

	narration := fmt.Sprintf("Receipt of %s against %s via %s", formatINR(p.Amount), bill.BillNumber, p.Mode)
	if p.Reference != "" {
		narration += " (ref " + p.Reference + ")"
	}
	var voucher Voucher
	err = s.retryNumbered(ctx, tx, func(ctx context.Context, tx TxRepository) error {
		number, err := s.nextVoucherNumber(ctx, tx, bill.SocietyID, receiptPrefix(checker.At))
		if err != nil {
			return err
		}
		headID := bill.BillHeadID
		voucher, err = s.postVoucher(ctx, tx, Voucher{
			SocietyID:     bill.SocietyID,
			VoucherNumber: number,
			Type:          VoucherReceipt,
			Date:          checker.At,
			ReferenceType: RefPayment,
			ReferenceID:   p.ID,
			BillHeadID:    &headID,
			SourceID:      sourceID("payment", p.ID),
			Narration:     narration,
			Entries:       entries,
			CreatedBy:     checker.UserID,
		})
		return err
	})
	if err != nil {
		return Payment{}, err
	}

	bill.PaidAmount = round2(bill.PaidAmount + principal)
	bill.PenaltyPaid = round2(bill.PenaltyPaid + penaltyPart)
	bill.PaymentHistory = append(bill.PaymentHistory, PaymentRecord{
		PaymentID:     p.ID,
		Amount:        p.Amount,
		PenaltyAmount: penaltyPart,
		Mode:          p.Mode,
		VoucherID:     voucher.ID,
		PaidAt:        p.PaymentDate,
	})
	bill.JournalEntries = append(bill.JournalEntries, voucher.ID)
	if err := s.saveBill(ctx, tx, &bill); err != nil {
		return Payment{}, err
	}
	if err := tx.SetPaymentVoucher(ctx, p.ID, voucher.ID, penaltyPart); err != nil {
		return Payment{}, err
	}
	p.Status = PaymentApproved
	p.Checker = &checker
	p.VoucherID = &voucher.ID
	p.PenaltyComponent = penaltyPart
	p.UpdatedAt = checker.At
	return p, nil
}
