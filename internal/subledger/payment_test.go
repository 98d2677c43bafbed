package subledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	makerID   int64 = 7
	checkerID int64 = 8
)

func (f *fixture) plainHead(amount float64) BillHead {
	return f.createHead(CreateBillHeadInput{
		Code:            "MAINT",
		Category:        "Maintenance",
		SubCategory:     "Monthly",
		CalculationType: CalcFixed,
		FixedAmount:     amount,
		DueDays:         15,
	})
}

func (f *fixture) recordPayment(billID int64, amount float64, mode PaymentMode) Payment {
	f.t.Helper()
	p, err := f.svc.RecordPayment(context.Background(), RecordPaymentInput{
		BillID:  billID,
		Amount:  amount,
		Mode:    mode,
		MakerID: makerID,
	})
	require.NoError(f.t, err)
	return p
}

func TestApprovePaymentEnforcesMakerChecker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	head := f.plainHead(2000)
	bill := f.generate(head, 101, "A-101")

	p := f.recordPayment(bill.ID, 500, ModeCheque)
	require.Equal(t, PaymentPending, p.Status)
	require.Nil(t, p.VoucherID)

	_, err := f.svc.ApprovePayment(ctx, ReviewPaymentInput{PaymentID: p.ID, ActorID: makerID})
	require.ErrorIs(t, err, ErrSelfApproval)
	require.Contains(t, f.audit.actions(), "payment.approve:failure")

	approved, err := f.svc.ApprovePayment(ctx, ReviewPaymentInput{PaymentID: p.ID, ActorID: checkerID, Remarks: "cleared"})
	require.NoError(t, err)
	require.Equal(t, PaymentApproved, approved.Status)
	require.Equal(t, checkerID, approved.Checker.UserID)
	require.NotNil(t, approved.VoucherID)
	require.Zero(t, approved.PenaltyComponent)

	receipt := f.voucher(*approved.VoucherID)
	require.Equal(t, VoucherReceipt, receipt.Type)
	require.Equal(t, "RCP/2405/0001", receipt.VoucherNumber)
	require.Equal(t, RefPayment, receipt.ReferenceType)
	require.Equal(t, p.ID, receipt.ReferenceID)
	require.Len(t, receipt.Entries, 2)

	got, err := f.svc.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	require.InDelta(t, 500, got.PaidAmount, 0.001)
	require.InDelta(t, 1500, got.RemainingAmount, 0.001)
	require.Equal(t, BillPartiallyPaid, got.Status)
	require.Len(t, got.PaymentHistory, 1)
	require.Contains(t, got.JournalEntries, *approved.VoucherID)

	require.InDelta(t, 1500, f.ledger(head.Accounting.ReceivableLedgerID).CurrentBalance, 0.001)
	bank := f.ledger(receipt.Entries[0].LedgerID)
	require.Equal(t, "BANK", bank.Code)
	require.InDelta(t, 500, bank.CurrentBalance, 0.001)

	_, err = f.svc.ApprovePayment(ctx, ReviewPaymentInput{PaymentID: p.ID, ActorID: 9})
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	requireBalancedVouchers(t, f.repo)
	requireNoDrift(t, f.svc)
}

func TestRecordPaymentAutoApprovesTrustedModes(t *testing.T) {
	f := newFixture(t)
	bill := f.generate(f.plainHead(1000), 101, "A-101")

	p := f.recordPayment(bill.ID, 1000, ModeUPI)
	require.Equal(t, PaymentApproved, p.Status)
	require.NotNil(t, p.Checker)
	require.Equal(t, SystemActorID, p.Checker.UserID)
	require.Equal(t, autoApproveRemark, p.Checker.Remarks)
	require.NotNil(t, p.VoucherID)

	got, err := f.svc.GetBill(context.Background(), bill.ID)
	require.NoError(t, err)
	require.Equal(t, BillPaid, got.Status)

	_, err = f.svc.RecordPayment(context.Background(), RecordPaymentInput{BillID: bill.ID, Amount: 1, Mode: ModeCash, MakerID: makerID})
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestRecordPaymentValidation(t *testing.T) {
	f := newFixture(t)
	bill := f.generate(f.plainHead(1000), 101, "A-101")
	ctx := context.Background()

	cases := []struct {
		name string
		in   RecordPaymentInput
		want error
	}{
		{"overpayment", RecordPaymentInput{BillID: bill.ID, Amount: 1000.5, Mode: ModeCash, MakerID: makerID}, ErrValidation},
		{"zero amount", RecordPaymentInput{BillID: bill.ID, Mode: ModeCash, MakerID: makerID}, ErrValidation},
		{"unknown mode", RecordPaymentInput{BillID: bill.ID, Amount: 10, Mode: "Barter", MakerID: makerID}, ErrValidation},
		{"anonymous maker", RecordPaymentInput{BillID: bill.ID, Amount: 10, Mode: ModeCash}, ErrValidation},
		{"unknown bill", RecordPaymentInput{BillID: 9999, Amount: 10, Mode: ModeCash, MakerID: makerID}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.RecordPayment(ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Empty(t, f.repo.snapshot().payments)
}

func TestApprovePaymentSettlesPenaltyFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock = time.Date(2024, time.January, 1, 9, 30, 0, 0, time.UTC)
	head := f.createHead(CreateBillHeadInput{
		Code:            "MAINT",
		Category:        "Maintenance",
		SubCategory:     "Monthly",
		CalculationType: CalcFixed,
		FixedAmount:     1000,
		DueDays:         10,
		LatePayment: LatePaymentConfig{
			IsApplicable:         true,
			GracePeriodDays:      5,
			ChargeType:           PenaltyFixed,
			ChargeValue:          50,
			CompoundingFrequency: CompoundMonthly,
		},
	})
	require.NotNil(t, head.Accounting.LateFeeIncomeLedgerID)
	bill := f.generate(head, 101, "A-101")
	require.Equal(t, BillPending, bill.Status)

	f.clock = time.Date(2024, time.February, 20, 9, 30, 0, 0, time.UTC)
	got, err := f.svc.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	require.Equal(t, BillOverdue, got.Status)
	require.InDelta(t, 50, got.PenaltyAmount, 0.001)
	require.InDelta(t, 1050, got.Outstanding(), 0.001)

	p := f.recordPayment(bill.ID, 1050, ModeCash)
	approved, err := f.svc.ApprovePayment(ctx, ReviewPaymentInput{PaymentID: p.ID, ActorID: checkerID})
	require.NoError(t, err)
	require.InDelta(t, 50, approved.PenaltyComponent, 0.001)

	receipt := f.voucher(*approved.VoucherID)
	require.Equal(t, "RCP/2402/0001", receipt.VoucherNumber)
	require.Len(t, receipt.Entries, 3)

	got, err = f.svc.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	require.Equal(t, BillPaid, got.Status)
	require.InDelta(t, 1000, got.PaidAmount, 0.001)
	require.InDelta(t, 50, got.PenaltyPaid, 0.001)
	require.Zero(t, got.Outstanding())

	require.Zero(t, f.ledger(head.Accounting.ReceivableLedgerID).CurrentBalance)
	require.InDelta(t, 50, f.ledger(*head.Accounting.LateFeeIncomeLedgerID).CurrentBalance, 0.001)
	require.InDelta(t, 1050, f.ledger(receipt.Entries[0].LedgerID).CurrentBalance, 0.001)
	require.Equal(t, "CASH", f.ledger(receipt.Entries[0].LedgerID).Code)
	requireNoDrift(t, f.svc)
}

func TestApprovePaymentConcurrentCheckers(t *testing.T) {
	f := newFixture(t)
	bill := f.generate(f.plainHead(1000), 101, "A-101")
	p := f.recordPayment(bill.ID, 400, ModeBankTransfer)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for _, checker := range []int64{11, 12, 13, 14} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ApprovePayment(context.Background(), ReviewPaymentInput{PaymentID: p.ID, ActorID: checker})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInvalidStateTransition):
				rejected++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, 3, rejected)
	got, err := f.svc.GetBill(context.Background(), bill.ID)
	require.NoError(t, err)
	require.InDelta(t, 400, got.PaidAmount, 0.001)
	require.Len(t, got.PaymentHistory, 1)
}

func TestRejectAndCancelPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.generate(f.plainHead(1000), 101, "A-101")
	balances := f.balances()

	rejected := f.recordPayment(bill.ID, 300, ModeCheque)
	_, err := f.svc.RejectPayment(ctx, ReviewPaymentInput{PaymentID: rejected.ID, ActorID: makerID})
	require.ErrorIs(t, err, ErrSelfApproval)
	out, err := f.svc.RejectPayment(ctx, ReviewPaymentInput{PaymentID: rejected.ID, ActorID: checkerID, Remarks: "bounced"})
	require.NoError(t, err)
	require.Equal(t, PaymentRejected, out.Status)
	require.Equal(t, "bounced", out.Checker.Remarks)

	_, err = f.svc.ApprovePayment(ctx, ReviewPaymentInput{PaymentID: rejected.ID, ActorID: checkerID})
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	withdrawn := f.recordPayment(bill.ID, 300, ModeCash)
	_, err = f.svc.CancelPayment(ctx, ReviewPaymentInput{PaymentID: withdrawn.ID, ActorID: checkerID})
	require.ErrorIs(t, err, ErrValidation)
	out, err = f.svc.CancelPayment(ctx, ReviewPaymentInput{PaymentID: withdrawn.ID, ActorID: makerID})
	require.NoError(t, err)
	require.Equal(t, PaymentCancelled, out.Status)

	_, err = f.svc.CancelPayment(ctx, ReviewPaymentInput{PaymentID: withdrawn.ID, ActorID: makerID})
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	for id, bal := range f.balances() {
		require.InDelta(t, balances[id], bal, 0.001)
	}
	payments, err := f.svc.ListPayments(ctx, bill.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
}

func TestCancelRejectedOncePaymentApplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.generate(f.maintenanceHead(), 101, "A-101")
	p := f.recordPayment(bill.ID, 500, ModeCheque)
	approved, err := f.svc.ApprovePayment(ctx, ReviewPaymentInput{PaymentID: p.ID, ActorID: checkerID})
	require.NoError(t, err)

	_, err = f.svc.CancelVoucher(ctx, CancelVoucherInput{VoucherID: bill.JournalEntries[0], ActorID: adminID})
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = f.svc.CancelBill(ctx, CancelBillInput{BillID: bill.ID, ActorID: adminID})
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = f.svc.CancelVoucher(ctx, CancelVoucherInput{VoucherID: *approved.VoucherID, ActorID: adminID})
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	require.Equal(t, VoucherActive, f.voucher(bill.JournalEntries[0]).Status)
	got, err := f.svc.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	require.Equal(t, BillPartiallyPaid, got.Status)
}

func TestRecordPaymentRejectsCancelledBill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.generate(f.plainHead(1000), 101, "A-101")
	pending := f.recordPayment(bill.ID, 100, ModeCheque)

	_, err := f.svc.CancelBill(ctx, CancelBillInput{BillID: bill.ID, ActorID: adminID})
	require.NoError(t, err)

	_, err = f.svc.RecordPayment(ctx, RecordPaymentInput{BillID: bill.ID, Amount: 100, Mode: ModeCash, MakerID: makerID})
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = f.svc.ApprovePayment(ctx, ReviewPaymentInput{PaymentID: pending.ID, ActorID: checkerID})
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	stored, err := f.svc.GetPayment(ctx, pending.ID)
	require.NoError(t, err)
	require.Equal(t, PaymentPending, stored.Status)
}
