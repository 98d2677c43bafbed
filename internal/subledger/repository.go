package subledger

import (
	"context"
	"time"

	"github.com/societyhub/societyhub/internal/subledger/sequence"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the operations available inside one transaction.
// Savepoint runs fn in a nested unit that rolls back on error without
// aborting the enclosing transaction.
type TxRepository interface {
	sequence.Store

	Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error

	InsertLedger(ctx context.Context, l Ledger) (Ledger, error)
	EnsureLedger(ctx context.Context, l Ledger) (Ledger, error)
	GetLedger(ctx context.Context, id int64) (Ledger, error)
	GetLedgerForUpdate(ctx context.Context, id int64) (Ledger, error)
	ListLedgers(ctx context.Context, societyID int64) ([]Ledger, error)
	UpdateLedgerBalance(ctx context.Context, id int64, balance float64) error
	UpdateLedgerStatus(ctx context.Context, id int64, status LedgerStatus) error
	SumLedgerEntries(ctx context.Context, ledgerID int64) (debit, credit float64, err error)

	InsertBillHead(ctx context.Context, h BillHead) (BillHead, error)
	GetBillHead(ctx context.Context, id int64) (BillHead, error)
	GetBillHeadForUpdate(ctx context.Context, id int64) (BillHead, error)
	ListBillHeads(ctx context.Context, societyID int64) ([]BillHead, error)
	UpdateBillHead(ctx context.Context, h BillHead) error
	DeleteBillHead(ctx context.Context, id int64) error
	CountBillsByHead(ctx context.Context, billHeadID int64) (int, error)
	CountVouchersByHead(ctx context.Context, billHeadID int64) (int, error)

	InsertVoucher(ctx context.Context, v Voucher) (Voucher, error)
	GetVoucher(ctx context.Context, id int64) (Voucher, error)
	GetVoucherForUpdate(ctx context.Context, id int64) (Voucher, error)
	ListVouchersByReference(ctx context.Context, refType ReferenceType, refID int64) ([]Voucher, error)
	MarkVoucherCancelled(ctx context.Context, id, reversedBy, actorID int64, remarks string, at time.Time) error

	InsertBill(ctx context.Context, b Bill) (Bill, error)
	GetBill(ctx context.Context, id int64) (Bill, error)
	GetBillForUpdate(ctx context.Context, id int64) (Bill, error)
	ListBills(ctx context.Context, filter BillFilter) ([]Bill, error)
	UpdateBill(ctx context.Context, b Bill) error

	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	GetPayment(ctx context.Context, id int64) (Payment, error)
	ListPaymentsByBill(ctx context.Context, billID int64) ([]Payment, error)
	TransitionPayment(ctx context.Context, id int64, from, to PaymentStatus, checker Actor) (bool, error)
	SetPaymentVoucher(ctx context.Context, id, voucherID int64, penaltyComponent float64) error

	ListSocietyIDs(ctx context.Context) ([]int64, error)
	InsertSchedule(ctx context.Context, sch BillSchedule, targets []BillTarget) (BillSchedule, error)
	ListSchedules(ctx context.Context, societyID int64) ([]BillSchedule, error)
	ListDueSchedules(ctx context.Context, dayOfMonth int, lastDayOfMonth bool) ([]BillSchedule, error)
	ListScheduleTargets(ctx context.Context, scheduleID int64) ([]BillTarget, error)
	InsertGenerationRun(ctx context.Context, run GenerationRun) (GenerationRun, error)
	UpdateGenerationRun(ctx context.Context, run GenerationRun) error
}

// BillFilter narrows bill listings.
type BillFilter struct {
	SocietyID  int64
	BillHeadID int64
	ResidentID int64
	Status     BillStatus
	PeriodKey  string
	Limit      int
}
