package subledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/societyhub/societyhub/internal/platform/db"
	"github.com/societyhub/societyhub/internal/subledger/sequence"
)

// Repository persists subledger entities in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within one transaction, retried on serialization
// conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("subledger repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	if errors.Is(err, db.ErrTxAborted) {
		return fmt.Errorf("%w: %w", ErrTransactionAborted, err)
	}
	return err
}

func (r *txRepository) Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.Savepoint(ctx, r.tx, func(nested pgx.Tx) error {
		return fn(ctx, &txRepository{tx: nested})
	})
}

// mapError converts constraint violations into domain errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case "uq_bills_society_number", "uq_vouchers_society_number":
			return fmt.Errorf("%w: %s", ErrSequenceCollision, pgErr.ConstraintName)
		}
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	case "23503":
		return invalid("", "referenced row does not exist (%s)", pgErr.ConstraintName)
	case "23514":
		return invalid("", "check constraint %s violated", pgErr.ConstraintName)
	}
	return err
}

func notFound(err, target error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return target
	}
	return err
}

func numberColumn(scope sequence.Scope) (table, column string, err error) {
	switch scope.Kind {
	case sequence.KindBill:
		return "bills", "bill_number", nil
	case sequence.KindVoucher:
		return "vouchers", "voucher_number", nil
	}
	return "", "", fmt.Errorf("subledger: unknown sequence kind %q", scope.Kind)
}

func (r *txRepository) MaxSuffix(ctx context.Context, scope sequence.Scope, pattern sequence.Pattern) (int64, error) {
	table, column, err := numberColumn(scope)
	if err != nil {
		return 0, err
	}
	if pattern.Width < 1 || pattern.Width > 18 {
		return 0, fmt.Errorf("subledger: unsupported number width %d", pattern.Width)
	}
	query := fmt.Sprintf(`SELECT COALESCE(MAX(substr(%[2]s, length($2) + 1)::bigint), 0)
FROM %[1]s WHERE society_id=$1 AND starts_with(%[2]s, $2) AND substr(%[2]s, length($2) + 1) ~ $3`, table, column)
	suffix := fmt.Sprintf("^[0-9]{%d}$", pattern.Width)
	var max int64
	if err := r.tx.QueryRow(ctx, query, scope.SocietyID, pattern.Prefix, suffix).Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

func (r *txRepository) NumberExists(ctx context.Context, scope sequence.Scope, number string) (bool, error) {
	table, column, err := numberColumn(scope)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE society_id=$1 AND %s=$2)`, table, column)
	var exists bool
	err = r.tx.QueryRow(ctx, query, scope.SocietyID, number).Scan(&exists)
	return exists, err
}

// Ledgers.

const ledgerColumns = `id, society_id, code, name, type, opening_balance, current_balance, bill_category, sub_category, status, created_at, updated_at`

func scanLedger(row pgx.Row) (Ledger, error) {
	var l Ledger
	err := row.Scan(&l.ID, &l.SocietyID, &l.Code, &l.Name, &l.Type, &l.OpeningBalance, &l.CurrentBalance, &l.BillCategory, &l.SubCategory, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (r *txRepository) InsertLedger(ctx context.Context, l Ledger) (Ledger, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO ledgers (society_id, code, name, type, opening_balance, current_balance, bill_category, sub_category, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING `+ledgerColumns,
		l.SocietyID, l.Code, l.Name, l.Type, l.OpeningBalance, l.CurrentBalance, l.BillCategory, l.SubCategory, l.Status)
	out, err := scanLedger(row)
	if err != nil {
		return Ledger{}, mapError(err)
	}
	return out, nil
}

func (r *txRepository) EnsureLedger(ctx context.Context, l Ledger) (Ledger, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO ledgers (society_id, code, name, type, opening_balance, current_balance, bill_category, sub_category, status)
VALUES ($1,$2,$3,$4,0,0,$5,$6,$7) ON CONFLICT (society_id, code) DO NOTHING`,
		l.SocietyID, l.Code, l.Name, l.Type, l.BillCategory, l.SubCategory, l.Status); err != nil {
		return Ledger{}, mapError(err)
	}
	out, err := scanLedger(r.tx.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE society_id=$1 AND code=$2`, l.SocietyID, l.Code))
	return out, notFound(err, ErrLedgerNotFound)
}

func (r *txRepository) GetLedger(ctx context.Context, id int64) (Ledger, error) {
	l, err := scanLedger(r.tx.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE id=$1`, id))
	return l, notFound(err, ErrLedgerNotFound)
}

func (r *txRepository) GetLedgerForUpdate(ctx context.Context, id int64) (Ledger, error) {
	l, err := scanLedger(r.tx.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE id=$1 FOR UPDATE`, id))
	return l, notFound(err, ErrLedgerNotFound)
}

func (r *txRepository) ListLedgers(ctx context.Context, societyID int64) ([]Ledger, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE society_id=$1 ORDER BY code`, societyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *txRepository) UpdateLedgerBalance(ctx context.Context, id int64, balance float64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledgers SET current_balance=$2, updated_at=NOW() WHERE id=$1`, id, balance)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLedgerNotFound
	}
	return nil
}

func (r *txRepository) UpdateLedgerStatus(ctx context.Context, id int64, status LedgerStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledgers SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLedgerNotFound
	}
	return nil
}

func (r *txRepository) SumLedgerEntries(ctx context.Context, ledgerID int64) (float64, float64, error) {
	var debit, credit float64
	err := r.tx.QueryRow(ctx, `SELECT
COALESCE(SUM(amount) FILTER (WHERE entry_type='debit'), 0),
COALESCE(SUM(amount) FILTER (WHERE entry_type='credit'), 0)
FROM voucher_entries WHERE ledger_id=$1`, ledgerID).Scan(&debit, &credit)
	return debit, credit, err
}

func (r *txRepository) ListSocietyIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT DISTINCT society_id FROM ledgers ORDER BY society_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Bill heads.

const billHeadColumns = `id, society_id, code, name, description, category, sub_category, bill_kind, calculation_type,
fixed_amount, per_unit_rate, formula, custom_charge, frequency, due_days, gst_config, late_payment_config,
income_ledger_id, receivable_ledger_id, gst_ledger_id, late_fee_ledger_id, is_active, created_by, updated_by, created_at, updated_at`

func scanBillHead(row pgx.Row) (BillHead, error) {
	var (
		h        BillHead
		gst, lpc []byte
	)
	err := row.Scan(&h.ID, &h.SocietyID, &h.Code, &h.Name, &h.Description, &h.Category, &h.SubCategory, &h.Kind, &h.CalculationType,
		&h.FixedAmount, &h.PerUnitRate, &h.Formula, &h.CustomCharge, &h.Frequency, &h.DueDays, &gst, &lpc,
		&h.Accounting.IncomeLedgerID, &h.Accounting.ReceivableLedgerID, &h.Accounting.GSTLedgerID, &h.Accounting.LateFeeIncomeLedgerID,
		&h.IsActive, &h.CreatedBy, &h.UpdatedBy, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return BillHead{}, err
	}
	if err := unmarshalJSON(gst, &h.GST); err != nil {
		return BillHead{}, err
	}
	if err := unmarshalJSON(lpc, &h.LatePayment); err != nil {
		return BillHead{}, err
	}
	return h, nil
}

func (r *txRepository) InsertBillHead(ctx context.Context, h BillHead) (BillHead, error) {
	gst, err := json.Marshal(h.GST)
	if err != nil {
		return BillHead{}, err
	}
	lpc, err := json.Marshal(h.LatePayment)
	if err != nil {
		return BillHead{}, err
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO bill_heads (society_id, code, name, description, category, sub_category, bill_kind, calculation_type,
fixed_amount, per_unit_rate, formula, custom_charge, frequency, due_days, gst_config, late_payment_config,
income_ledger_id, receivable_ledger_id, gst_ledger_id, late_fee_ledger_id, is_active, created_by, updated_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$22)
RETURNING `+billHeadColumns,
		h.SocietyID, h.Code, h.Name, h.Description, h.Category, h.SubCategory, h.Kind, h.CalculationType,
		h.FixedAmount, h.PerUnitRate, h.Formula, h.CustomCharge, h.Frequency, h.DueDays, gst, lpc,
		h.Accounting.IncomeLedgerID, h.Accounting.ReceivableLedgerID, h.Accounting.GSTLedgerID, h.Accounting.LateFeeIncomeLedgerID,
		h.IsActive, h.CreatedBy)
	out, err := scanBillHead(row)
	if err != nil {
		return BillHead{}, mapError(err)
	}
	return out, nil
}

func (r *txRepository) GetBillHead(ctx context.Context, id int64) (BillHead, error) {
	h, err := scanBillHead(r.tx.QueryRow(ctx, `SELECT `+billHeadColumns+` FROM bill_heads WHERE id=$1`, id))
	return h, notFound(err, ErrBillHeadNotFound)
}

func (r *txRepository) GetBillHeadForUpdate(ctx context.Context, id int64) (BillHead, error) {
	h, err := scanBillHead(r.tx.QueryRow(ctx, `SELECT `+billHeadColumns+` FROM bill_heads WHERE id=$1 FOR UPDATE`, id))
	return h, notFound(err, ErrBillHeadNotFound)
}

func (r *txRepository) ListBillHeads(ctx context.Context, societyID int64) ([]BillHead, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+billHeadColumns+` FROM bill_heads WHERE society_id=$1 ORDER BY code`, societyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BillHead
	for rows.Next() {
		h, err := scanBillHead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *txRepository) UpdateBillHead(ctx context.Context, h BillHead) error {
	gst, err := json.Marshal(h.GST)
	if err != nil {
		return err
	}
	lpc, err := json.Marshal(h.LatePayment)
	if err != nil {
		return err
	}
	cmd, err := r.tx.Exec(ctx, `UPDATE bill_heads SET code=$2, name=$3, description=$4, category=$5, sub_category=$6,
calculation_type=$7, fixed_amount=$8, per_unit_rate=$9, formula=$10, custom_charge=$11, frequency=$12, due_days=$13,
gst_config=$14, late_payment_config=$15, income_ledger_id=$16, receivable_ledger_id=$17, gst_ledger_id=$18,
late_fee_ledger_id=$19, is_active=$20, updated_by=$21, updated_at=NOW() WHERE id=$1`,
		h.ID, h.Code, h.Name, h.Description, h.Category, h.SubCategory,
		h.CalculationType, h.FixedAmount, h.PerUnitRate, h.Formula, h.CustomCharge, h.Frequency, h.DueDays,
		gst, lpc, h.Accounting.IncomeLedgerID, h.Accounting.ReceivableLedgerID, h.Accounting.GSTLedgerID,
		h.Accounting.LateFeeIncomeLedgerID, h.IsActive, h.UpdatedBy)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrBillHeadNotFound
	}
	return nil
}

func (r *txRepository) DeleteBillHead(ctx context.Context, id int64) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM bill_heads WHERE id=$1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("%w: %s", ErrInUse, pgErr.ConstraintName)
		}
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrBillHeadNotFound
	}
	return nil
}

func (r *txRepository) CountBillsByHead(ctx context.Context, billHeadID int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM bills WHERE bill_head_id=$1`, billHeadID).Scan(&n)
	return n, err
}

func (r *txRepository) CountVouchersByHead(ctx context.Context, billHeadID int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM vouchers WHERE bill_head_id=$1`, billHeadID).Scan(&n)
	return n, err
}

// Vouchers.

const voucherColumns = `id, society_id, voucher_number, voucher_type, date, reference_type, reference_id, bill_head_id,
source_id::text, narration, status, reversal_of, reversed_by, created_by, cancelled_by, cancelled_at, cancel_remarks, created_at`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var (
		v      Voucher
		source string
	)
	err := row.Scan(&v.ID, &v.SocietyID, &v.VoucherNumber, &v.Type, &v.Date, &v.ReferenceType, &v.ReferenceID, &v.BillHeadID,
		&source, &v.Narration, &v.Status, &v.ReversalOf, &v.ReversedBy, &v.CreatedBy, &v.CancelledBy, &v.CancelledAt, &v.CancelRemarks, &v.CreatedAt)
	if err != nil {
		return Voucher{}, err
	}
	v.SourceID, err = uuid.Parse(source)
	return v, err
}

func (r *txRepository) InsertVoucher(ctx context.Context, v Voucher) (Voucher, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO vouchers (society_id, voucher_number, voucher_type, date, reference_type, reference_id,
bill_head_id, source_id, narration, status, reversal_of, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING `+voucherColumns,
		v.SocietyID, v.VoucherNumber, v.Type, v.Date, v.ReferenceType, v.ReferenceID,
		v.BillHeadID, v.SourceID, v.Narration, v.Status, v.ReversalOf, v.CreatedBy)
	out, err := scanVoucher(row)
	if err != nil {
		return Voucher{}, mapError(err)
	}
	out.Entries = make([]VoucherEntry, 0, len(v.Entries))
	for i, e := range v.Entries {
		err := r.tx.QueryRow(ctx, `INSERT INTO voucher_entries (voucher_id, line_no, ledger_id, entry_type, amount, description)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, out.ID, i+1, e.LedgerID, e.Type, e.Amount, e.Description).Scan(&e.ID)
		if err != nil {
			return Voucher{}, mapError(err)
		}
		e.VoucherID = out.ID
		out.Entries = append(out.Entries, e)
	}
	return out, nil
}

func (r *txRepository) loadEntries(ctx context.Context, v *Voucher) error {
	rows, err := r.tx.Query(ctx, `SELECT id, voucher_id, ledger_id, entry_type, amount, description
FROM voucher_entries WHERE voucher_id=$1 ORDER BY line_no`, v.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	v.Entries = nil
	for rows.Next() {
		var e VoucherEntry
		if err := rows.Scan(&e.ID, &e.VoucherID, &e.LedgerID, &e.Type, &e.Amount, &e.Description); err != nil {
			return err
		}
		v.Entries = append(v.Entries, e)
	}
	return rows.Err()
}

func (r *txRepository) getVoucher(ctx context.Context, query string, id int64) (Voucher, error) {
	v, err := scanVoucher(r.tx.QueryRow(ctx, query, id))
	if err != nil {
		return Voucher{}, notFound(err, ErrVoucherNotFound)
	}
	if err := r.loadEntries(ctx, &v); err != nil {
		return Voucher{}, err
	}
	return v, nil
}

func (r *txRepository) GetVoucher(ctx context.Context, id int64) (Voucher, error) {
	return r.getVoucher(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id=$1`, id)
}

func (r *txRepository) GetVoucherForUpdate(ctx context.Context, id int64) (Voucher, error) {
	return r.getVoucher(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id=$1 FOR UPDATE`, id)
}

func (r *txRepository) ListVouchersByReference(ctx context.Context, refType ReferenceType, refID int64) ([]Voucher, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE reference_type=$1 AND reference_id=$2 ORDER BY id`, refType, refID)
	if err != nil {
		return nil, err
	}
	var out []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := r.loadEntries(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *txRepository) MarkVoucherCancelled(ctx context.Context, id, reversedBy, actorID int64, remarks string, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE vouchers SET status=$2, reversed_by=$3, cancelled_by=$4, cancel_remarks=$5, cancelled_at=$6
WHERE id=$1 AND status=$7`, id, VoucherCancelled, reversedBy, actorID, remarks, at, VoucherActive)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: voucher %d is not active", ErrInvalidStateTransition, id)
	}
	return nil
}

// Bills.

const billColumns = `id, society_id, bill_kind, bill_number, bill_head_id, resident_id, unit_number, period_key, unit_usage,
issue_date, due_date, base_amount, cgst, sgst, igst, gst_total, additional_charges, total_amount, paid_amount,
remaining_amount, penalty_amount, penalty_paid, last_penalty_calculation_date, status, receivable_ledger_id,
income_ledger_id, journal_entries, payment_history, created_by, cancelled_by, cancelled_at, cancel_remarks, created_at, updated_at`

func scanBill(row pgx.Row) (Bill, error) {
	var (
		b                Bill
		charges, history []byte
	)
	err := row.Scan(&b.ID, &b.SocietyID, &b.Kind, &b.BillNumber, &b.BillHeadID, &b.ResidentID, &b.UnitNumber, &b.PeriodKey, &b.UnitUsage,
		&b.IssueDate, &b.DueDate, &b.BaseAmount, &b.GST.CGST, &b.GST.SGST, &b.GST.IGST, &b.GST.Total, &charges, &b.TotalAmount, &b.PaidAmount,
		&b.RemainingAmount, &b.PenaltyAmount, &b.PenaltyPaid, &b.LastPenaltyCalculationDate, &b.Status, &b.ReceivableLedgerID,
		&b.IncomeLedgerID, &b.JournalEntries, &history, &b.CreatedBy, &b.CancelledBy, &b.CancelledAt, &b.CancelRemarks, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Bill{}, err
	}
	if err := unmarshalJSON(charges, &b.AdditionalCharges); err != nil {
		return Bill{}, err
	}
	if err := unmarshalJSON(history, &b.PaymentHistory); err != nil {
		return Bill{}, err
	}
	return b, nil
}

func (r *txRepository) InsertBill(ctx context.Context, b Bill) (Bill, error) {
	charges, err := json.Marshal(nonNil(b.AdditionalCharges))
	if err != nil {
		return Bill{}, err
	}
	history, err := json.Marshal(nonNil(b.PaymentHistory))
	if err != nil {
		return Bill{}, err
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO bills (society_id, bill_kind, bill_number, bill_head_id, resident_id, unit_number, period_key,
unit_usage, issue_date, due_date, base_amount, cgst, sgst, igst, gst_total, additional_charges, total_amount, paid_amount,
remaining_amount, penalty_amount, penalty_paid, status, receivable_ledger_id, income_ledger_id, journal_entries, payment_history, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
RETURNING `+billColumns,
		b.SocietyID, b.Kind, b.BillNumber, b.BillHeadID, b.ResidentID, b.UnitNumber, b.PeriodKey,
		b.UnitUsage, b.IssueDate, b.DueDate, b.BaseAmount, b.GST.CGST, b.GST.SGST, b.GST.IGST, b.GST.Total, charges, b.TotalAmount, b.PaidAmount,
		b.RemainingAmount, b.PenaltyAmount, b.PenaltyPaid, b.Status, b.ReceivableLedgerID, b.IncomeLedgerID, nonNil(b.JournalEntries), history, b.CreatedBy)
	out, err := scanBill(row)
	if err != nil {
		return Bill{}, mapError(err)
	}
	return out, nil
}

func (r *txRepository) GetBill(ctx context.Context, id int64) (Bill, error) {
	b, err := scanBill(r.tx.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id=$1`, id))
	return b, notFound(err, ErrBillNotFound)
}

func (r *txRepository) GetBillForUpdate(ctx context.Context, id int64) (Bill, error) {
	b, err := scanBill(r.tx.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id=$1 FOR UPDATE`, id))
	return b, notFound(err, ErrBillNotFound)
}

func (r *txRepository) ListBills(ctx context.Context, f BillFilter) ([]Bill, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := r.tx.Query(ctx, `SELECT `+billColumns+` FROM bills
WHERE society_id=$1
  AND ($2::bigint = 0 OR bill_head_id=$2)
  AND ($3::bigint = 0 OR resident_id=$3)
  AND ($4::text = '' OR status=$4)
  AND ($5::text = '' OR period_key=$5)
ORDER BY id DESC LIMIT $6`, f.SocietyID, f.BillHeadID, f.ResidentID, string(f.Status), f.PeriodKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *txRepository) UpdateBill(ctx context.Context, b Bill) error {
	history, err := json.Marshal(nonNil(b.PaymentHistory))
	if err != nil {
		return err
	}
	cmd, err := r.tx.Exec(ctx, `UPDATE bills SET paid_amount=$2, remaining_amount=$3, penalty_amount=$4, penalty_paid=$5,
last_penalty_calculation_date=$6, status=$7, journal_entries=$8, payment_history=$9, cancelled_by=$10, cancelled_at=$11,
cancel_remarks=$12, updated_at=$13 WHERE id=$1`,
		b.ID, b.PaidAmount, b.RemainingAmount, b.PenaltyAmount, b.PenaltyPaid,
		b.LastPenaltyCalculationDate, b.Status, nonNil(b.JournalEntries), history, b.CancelledBy, b.CancelledAt,
		b.CancelRemarks, b.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}

// Payments.

const paymentColumns = `id, society_id, bill_id, bill_kind, amount, penalty_component, payment_mode, reference, payment_date, status,
maker_id, maker_at, maker_remarks, checker_id, checker_at, checker_remarks, voucher_id, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p              Payment
		checkerID      *int64
		checkerAt      *time.Time
		checkerRemarks *string
	)
	err := row.Scan(&p.ID, &p.SocietyID, &p.BillID, &p.BillKind, &p.Amount, &p.PenaltyComponent, &p.Mode, &p.Reference, &p.PaymentDate, &p.Status,
		&p.Maker.UserID, &p.Maker.At, &p.Maker.Remarks, &checkerID, &checkerAt, &checkerRemarks, &p.VoucherID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Payment{}, err
	}
	if checkerID != nil {
		p.Checker = &Actor{UserID: *checkerID}
		if checkerAt != nil {
			p.Checker.At = *checkerAt
		}
		if checkerRemarks != nil {
			p.Checker.Remarks = *checkerRemarks
		}
	}
	return p, nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO payments (society_id, bill_id, bill_kind, amount, payment_mode, reference, payment_date, status,
maker_id, maker_at, maker_remarks)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING `+paymentColumns,
		p.SocietyID, p.BillID, p.BillKind, p.Amount, p.Mode, p.Reference, p.PaymentDate, p.Status,
		p.Maker.UserID, p.Maker.At, p.Maker.Remarks)
	out, err := scanPayment(row)
	if err != nil {
		return Payment{}, mapError(err)
	}
	return out, nil
}

func (r *txRepository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	p, err := scanPayment(r.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id))
	return p, notFound(err, ErrPaymentNotFound)
}

func (r *txRepository) ListPaymentsByBill(ctx context.Context, billID int64) ([]Payment, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE bill_id=$1 ORDER BY id`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *txRepository) TransitionPayment(ctx context.Context, id int64, from, to PaymentStatus, checker Actor) (bool, error) {
	cmd, err := r.tx.Exec(ctx, `UPDATE payments SET status=$3, checker_id=$4, checker_at=$5, checker_remarks=$6, updated_at=$5
WHERE id=$1 AND status=$2`, id, from, to, checker.UserID, checker.At, checker.Remarks)
	if err != nil {
		return false, mapError(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *txRepository) SetPaymentVoucher(ctx context.Context, id, voucherID int64, penaltyComponent float64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE payments SET voucher_id=$2, penalty_component=$3 WHERE id=$1`, id, voucherID, penaltyComponent)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// Schedules.

func (r *txRepository) InsertSchedule(ctx context.Context, sch BillSchedule, targets []BillTarget) (BillSchedule, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO bill_schedules (society_id, bill_head_id, day_of_month, is_active)
VALUES ($1,$2,$3,$4) RETURNING id`, sch.SocietyID, sch.BillHeadID, sch.DayOfMonth, sch.IsActive).Scan(&sch.ID)
	if err != nil {
		return BillSchedule{}, mapError(err)
	}
	batch := &pgx.Batch{}
	for _, t := range targets {
		charges, err := json.Marshal(nonNil(t.AdditionalCharges))
		if err != nil {
			return BillSchedule{}, err
		}
		batch.Queue(`INSERT INTO bill_schedule_targets (schedule_id, resident_id, unit_number, unit_usage, additional_charges)
VALUES ($1,$2,$3,$4,$5)`, sch.ID, t.ResidentID, t.UnitNumber, t.UnitUsage, charges)
	}
	if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
		return BillSchedule{}, mapError(err)
	}
	return sch, nil
}

func (r *txRepository) listSchedules(ctx context.Context, query string, args ...any) ([]BillSchedule, error) {
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BillSchedule
	for rows.Next() {
		var s BillSchedule
		if err := rows.Scan(&s.ID, &s.SocietyID, &s.BillHeadID, &s.DayOfMonth, &s.IsActive); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *txRepository) ListSchedules(ctx context.Context, societyID int64) ([]BillSchedule, error) {
	return r.listSchedules(ctx, `SELECT id, society_id, bill_head_id, day_of_month, is_active
FROM bill_schedules WHERE society_id=$1 ORDER BY id`, societyID)
}

func (r *txRepository) ListDueSchedules(ctx context.Context, dayOfMonth int, lastDayOfMonth bool) ([]BillSchedule, error) {
	return r.listSchedules(ctx, `SELECT id, society_id, bill_head_id, day_of_month, is_active
FROM bill_schedules WHERE is_active AND (day_of_month=$1 OR ($2 AND day_of_month > $1)) ORDER BY id`, dayOfMonth, lastDayOfMonth)
}

func (r *txRepository) ListScheduleTargets(ctx context.Context, scheduleID int64) ([]BillTarget, error) {
	rows, err := r.tx.Query(ctx, `SELECT resident_id, unit_number, unit_usage, additional_charges
FROM bill_schedule_targets WHERE schedule_id=$1 ORDER BY resident_id`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BillTarget
	for rows.Next() {
		var (
			t       BillTarget
			charges []byte
		)
		if err := rows.Scan(&t.ResidentID, &t.UnitNumber, &t.UnitUsage, &charges); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(charges, &t.AdditionalCharges); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertGenerationRun(ctx context.Context, run GenerationRun) (GenerationRun, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO generation_runs (society_id, bill_head_id, period_key, created, failed, ran_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, run.SocietyID, run.BillHeadID, run.PeriodKey, run.Created, run.Failed, run.RanAt).Scan(&run.ID)
	if err != nil {
		return GenerationRun{}, mapError(err)
	}
	return run, nil
}

func (r *txRepository) UpdateGenerationRun(ctx context.Context, run GenerationRun) error {
	_, err := r.tx.Exec(ctx, `UPDATE generation_runs SET created=$2, failed=$3 WHERE id=$1`, run.ID, run.Created, run.Failed)
	return err
}

func unmarshalJSON(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
