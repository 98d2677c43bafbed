package subledger

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/societyhub/societyhub/internal/subledger/sequence"
)

// memRepo serialises transactions behind one mutex and commits by swapping
// in the working copy, so a failed transaction leaves no trace.
type memRepo struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	nextID    int64
	ledgers   map[int64]Ledger
	heads     map[int64]BillHead
	vouchers  map[int64]Voucher
	bills     map[int64]Bill
	payments  map[int64]Payment
	schedules map[int64]BillSchedule
	targets   map[int64][]BillTarget
	runs      map[int64]GenerationRun
}

func newMemRepo() *memRepo {
	return &memRepo{state: &memState{
		ledgers:   map[int64]Ledger{},
		heads:     map[int64]BillHead{},
		vouchers:  map[int64]Voucher{},
		bills:     map[int64]Bill{},
		payments:  map[int64]Payment{},
		schedules: map[int64]BillSchedule{},
		targets:   map[int64][]BillTarget{},
		runs:      map[int64]GenerationRun{},
	}}
}

func (s *memState) clone() *memState {
	out := &memState{
		nextID:    s.nextID,
		ledgers:   make(map[int64]Ledger, len(s.ledgers)),
		heads:     make(map[int64]BillHead, len(s.heads)),
		vouchers:  make(map[int64]Voucher, len(s.vouchers)),
		bills:     make(map[int64]Bill, len(s.bills)),
		payments:  make(map[int64]Payment, len(s.payments)),
		schedules: make(map[int64]BillSchedule, len(s.schedules)),
		targets:   make(map[int64][]BillTarget, len(s.targets)),
		runs:      make(map[int64]GenerationRun, len(s.runs)),
	}
	for k, v := range s.ledgers {
		out.ledgers[k] = v
	}
	for k, v := range s.heads {
		out.heads[k] = v
	}
	for k, v := range s.vouchers {
		out.vouchers[k] = cloneVoucher(v)
	}
	for k, v := range s.bills {
		out.bills[k] = cloneBill(v)
	}
	for k, v := range s.payments {
		out.payments[k] = v
	}
	for k, v := range s.schedules {
		out.schedules[k] = v
	}
	for k, v := range s.targets {
		out.targets[k] = append([]BillTarget(nil), v...)
	}
	for k, v := range s.runs {
		out.runs[k] = v
	}
	return out
}

func cloneVoucher(v Voucher) Voucher {
	v.Entries = append([]VoucherEntry(nil), v.Entries...)
	return v
}

func cloneBill(b Bill) Bill {
	b.AdditionalCharges = append([]AdditionalCharge(nil), b.AdditionalCharges...)
	b.JournalEntries = append([]int64{}, b.JournalEntries...)
	b.PaymentHistory = append([]PaymentRecord{}, b.PaymentHistory...)
	return b
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.state.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

// snapshot returns a copy of committed state for assertions.
func (r *memRepo) snapshot() *memState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

type memTx struct {
	st *memState
}

func (t *memTx) Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saved := t.st.clone()
	if err := fn(ctx, t); err != nil {
		*t.st = *saved
		return err
	}
	return nil
}

func (t *memTx) numbers(scope sequence.Scope) []string {
	var out []string
	switch scope.Kind {
	case sequence.KindBill:
		for _, b := range t.st.bills {
			if b.SocietyID == scope.SocietyID {
				out = append(out, b.BillNumber)
			}
		}
	case sequence.KindVoucher:
		for _, v := range t.st.vouchers {
			if v.SocietyID == scope.SocietyID {
				out = append(out, v.VoucherNumber)
			}
		}
	}
	return out
}

func (t *memTx) MaxSuffix(_ context.Context, scope sequence.Scope, pattern sequence.Pattern) (int64, error) {
	var max int64
	for _, n := range t.numbers(scope) {
		suffix, ok := strings.CutPrefix(n, pattern.Prefix)
		if !ok || len(suffix) != pattern.Width || strings.ContainsAny(suffix, "+-") {
			continue
		}
		v, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max, nil
}

func (t *memTx) NumberExists(_ context.Context, scope sequence.Scope, number string) (bool, error) {
	for _, n := range t.numbers(scope) {
		if n == number {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertLedger(_ context.Context, l Ledger) (Ledger, error) {
	for _, existing := range t.st.ledgers {
		if existing.SocietyID == l.SocietyID && existing.Code == l.Code {
			return Ledger{}, ErrDuplicate
		}
	}
	l.ID = t.st.id()
	t.st.ledgers[l.ID] = l
	return l, nil
}

func (t *memTx) EnsureLedger(ctx context.Context, l Ledger) (Ledger, error) {
	for _, existing := range t.st.ledgers {
		if existing.SocietyID == l.SocietyID && existing.Code == l.Code {
			return existing, nil
		}
	}
	return t.InsertLedger(ctx, l)
}

func (t *memTx) GetLedger(_ context.Context, id int64) (Ledger, error) {
	l, ok := t.st.ledgers[id]
	if !ok {
		return Ledger{}, ErrLedgerNotFound
	}
	return l, nil
}

func (t *memTx) GetLedgerForUpdate(ctx context.Context, id int64) (Ledger, error) {
	return t.GetLedger(ctx, id)
}

func (t *memTx) ListLedgers(_ context.Context, societyID int64) ([]Ledger, error) {
	var out []Ledger
	for _, l := range t.st.ledgers {
		if l.SocietyID == societyID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *memTx) UpdateLedgerBalance(_ context.Context, id int64, balance float64) error {
	l, ok := t.st.ledgers[id]
	if !ok {
		return ErrLedgerNotFound
	}
	l.CurrentBalance = balance
	t.st.ledgers[id] = l
	return nil
}

func (t *memTx) UpdateLedgerStatus(_ context.Context, id int64, status LedgerStatus) error {
	l, ok := t.st.ledgers[id]
	if !ok {
		return ErrLedgerNotFound
	}
	l.Status = status
	t.st.ledgers[id] = l
	return nil
}

func (t *memTx) SumLedgerEntries(_ context.Context, ledgerID int64) (float64, float64, error) {
	var debit, credit []float64
	for _, v := range t.st.vouchers {
		for _, e := range v.Entries {
			if e.LedgerID != ledgerID {
				continue
			}
			if e.Type == Debit {
				debit = append(debit, e.Amount)
			} else {
				credit = append(credit, e.Amount)
			}
		}
	}
	return sumMoney(debit...), sumMoney(credit...), nil
}

func (t *memTx) ListSocietyIDs(_ context.Context) ([]int64, error) {
	seen := map[int64]bool{}
	var out []int64
	for _, l := range t.st.ledgers {
		if !seen[l.SocietyID] {
			seen[l.SocietyID] = true
			out = append(out, l.SocietyID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (t *memTx) InsertBillHead(_ context.Context, h BillHead) (BillHead, error) {
	for _, existing := range t.st.heads {
		if existing.SocietyID == h.SocietyID && existing.Code == h.Code {
			return BillHead{}, ErrDuplicate
		}
	}
	h.ID = t.st.id()
	t.st.heads[h.ID] = h
	return h, nil
}

func (t *memTx) GetBillHead(_ context.Context, id int64) (BillHead, error) {
	h, ok := t.st.heads[id]
	if !ok {
		return BillHead{}, ErrBillHeadNotFound
	}
	return h, nil
}

func (t *memTx) GetBillHeadForUpdate(ctx context.Context, id int64) (BillHead, error) {
	return t.GetBillHead(ctx, id)
}

func (t *memTx) ListBillHeads(_ context.Context, societyID int64) ([]BillHead, error) {
	var out []BillHead
	for _, h := range t.st.heads {
		if h.SocietyID == societyID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *memTx) UpdateBillHead(_ context.Context, h BillHead) error {
	if _, ok := t.st.heads[h.ID]; !ok {
		return ErrBillHeadNotFound
	}
	for _, existing := range t.st.heads {
		if existing.ID != h.ID && existing.SocietyID == h.SocietyID && existing.Code == h.Code {
			return ErrDuplicate
		}
	}
	t.st.heads[h.ID] = h
	return nil
}

func (t *memTx) DeleteBillHead(_ context.Context, id int64) error {
	if _, ok := t.st.heads[id]; !ok {
		return ErrBillHeadNotFound
	}
	delete(t.st.heads, id)
	return nil
}

func (t *memTx) CountBillsByHead(_ context.Context, billHeadID int64) (int, error) {
	n := 0
	for _, b := range t.st.bills {
		if b.BillHeadID == billHeadID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CountVouchersByHead(_ context.Context, billHeadID int64) (int, error) {
	n := 0
	for _, v := range t.st.vouchers {
		if v.BillHeadID != nil && *v.BillHeadID == billHeadID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertVoucher(_ context.Context, v Voucher) (Voucher, error) {
	for _, existing := range t.st.vouchers {
		if existing.SocietyID == v.SocietyID && existing.VoucherNumber == v.VoucherNumber {
			return Voucher{}, ErrSequenceCollision
		}
		if existing.SourceID == v.SourceID && v.SourceID != uuid.Nil {
			return Voucher{}, ErrDuplicate
		}
	}
	v = cloneVoucher(v)
	v.ID = t.st.id()
	for i := range v.Entries {
		v.Entries[i].ID = t.st.id()
		v.Entries[i].VoucherID = v.ID
	}
	t.st.vouchers[v.ID] = v
	return cloneVoucher(v), nil
}

func (t *memTx) GetVoucher(_ context.Context, id int64) (Voucher, error) {
	v, ok := t.st.vouchers[id]
	if !ok {
		return Voucher{}, ErrVoucherNotFound
	}
	return cloneVoucher(v), nil
}

func (t *memTx) GetVoucherForUpdate(ctx context.Context, id int64) (Voucher, error) {
	return t.GetVoucher(ctx, id)
}

func (t *memTx) ListVouchersByReference(_ context.Context, refType ReferenceType, refID int64) ([]Voucher, error) {
	var out []Voucher
	for _, v := range t.st.vouchers {
		if v.ReferenceType == refType && v.ReferenceID == refID {
			out = append(out, cloneVoucher(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) MarkVoucherCancelled(_ context.Context, id, reversedBy, actorID int64, remarks string, at time.Time) error {
	v, ok := t.st.vouchers[id]
	if !ok {
		return ErrVoucherNotFound
	}
	if v.Status != VoucherActive {
		return ErrInvalidStateTransition
	}
	v.Status = VoucherCancelled
	v.ReversedBy = &reversedBy
	v.CancelledBy = &actorID
	v.CancelledAt = &at
	v.CancelRemarks = remarks
	t.st.vouchers[id] = v
	return nil
}

func (t *memTx) InsertBill(_ context.Context, b Bill) (Bill, error) {
	for _, existing := range t.st.bills {
		if existing.SocietyID == b.SocietyID && existing.BillNumber == b.BillNumber {
			return Bill{}, ErrSequenceCollision
		}
		if existing.Status != BillCancelled && existing.BillHeadID == b.BillHeadID &&
			existing.ResidentID == b.ResidentID && existing.PeriodKey == b.PeriodKey {
			return Bill{}, ErrDuplicate
		}
	}
	b = cloneBill(b)
	b.ID = t.st.id()
	t.st.bills[b.ID] = b
	return cloneBill(b), nil
}

func (t *memTx) GetBill(_ context.Context, id int64) (Bill, error) {
	b, ok := t.st.bills[id]
	if !ok {
		return Bill{}, ErrBillNotFound
	}
	return cloneBill(b), nil
}

func (t *memTx) GetBillForUpdate(ctx context.Context, id int64) (Bill, error) {
	return t.GetBill(ctx, id)
}

func (t *memTx) ListBills(_ context.Context, f BillFilter) ([]Bill, error) {
	var out []Bill
	for _, b := range t.st.bills {
		switch {
		case b.SocietyID != f.SocietyID,
			f.BillHeadID != 0 && b.BillHeadID != f.BillHeadID,
			f.ResidentID != 0 && b.ResidentID != f.ResidentID,
			f.Status != "" && b.Status != f.Status,
			f.PeriodKey != "" && b.PeriodKey != f.PeriodKey:
			continue
		}
		out = append(out, cloneBill(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *memTx) UpdateBill(_ context.Context, b Bill) error {
	if _, ok := t.st.bills[b.ID]; !ok {
		return ErrBillNotFound
	}
	t.st.bills[b.ID] = cloneBill(b)
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, p Payment) (Payment, error) {
	p.ID = t.st.id()
	t.st.payments[p.ID] = p
	return p, nil
}

func (t *memTx) GetPayment(_ context.Context, id int64) (Payment, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

func (t *memTx) ListPaymentsByBill(_ context.Context, billID int64) ([]Payment, error) {
	var out []Payment
	for _, p := range t.st.payments {
		if p.BillID == billID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) TransitionPayment(_ context.Context, id int64, from, to PaymentStatus, checker Actor) (bool, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return false, ErrPaymentNotFound
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = to
	p.Checker = &checker
	p.UpdatedAt = checker.At
	t.st.payments[id] = p
	return true, nil
}

func (t *memTx) SetPaymentVoucher(_ context.Context, id, voucherID int64, penaltyComponent float64) error {
	p, ok := t.st.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	p.VoucherID = &voucherID
	p.PenaltyComponent = penaltyComponent
	t.st.payments[id] = p
	return nil
}

func (t *memTx) InsertSchedule(_ context.Context, sch BillSchedule, targets []BillTarget) (BillSchedule, error) {
	sch.ID = t.st.id()
	t.st.schedules[sch.ID] = sch
	t.st.targets[sch.ID] = append([]BillTarget(nil), targets...)
	return sch, nil
}

func (t *memTx) ListSchedules(_ context.Context, societyID int64) ([]BillSchedule, error) {
	var out []BillSchedule
	for _, s := range t.st.schedules {
		if s.SocietyID == societyID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) ListDueSchedules(_ context.Context, dayOfMonth int, lastDayOfMonth bool) ([]BillSchedule, error) {
	var out []BillSchedule
	for _, s := range t.st.schedules {
		if !s.IsActive {
			continue
		}
		if s.DayOfMonth == dayOfMonth || (lastDayOfMonth && s.DayOfMonth > dayOfMonth) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) ListScheduleTargets(_ context.Context, scheduleID int64) ([]BillTarget, error) {
	return append([]BillTarget(nil), t.st.targets[scheduleID]...), nil
}

func (t *memTx) InsertGenerationRun(_ context.Context, run GenerationRun) (GenerationRun, error) {
	for _, existing := range t.st.runs {
		if existing.BillHeadID == run.BillHeadID && existing.PeriodKey == run.PeriodKey {
			return GenerationRun{}, ErrDuplicate
		}
	}
	run.ID = t.st.id()
	t.st.runs[run.ID] = run
	return run, nil
}

func (t *memTx) UpdateGenerationRun(_ context.Context, run GenerationRun) error {
	t.st.runs[run.ID] = run
	return nil
}
