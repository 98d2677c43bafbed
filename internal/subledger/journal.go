package subledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/societyhub/societyhub/internal/shared"
	"github.com/societyhub/societyhub/internal/subledger/sequence"
)

const (
	voucherNumberWidth = 4
	billNumberWidth    = 6
	generalHeadCode    = "GEN"
)

// PostVoucherInput describes a manual journal voucher.
type PostVoucherInput struct {
	SocietyID    int64
	Date         time.Time
	BillHeadCode string
	Narration    string
	SourceID     uuid.UUID
	Entries      []VoucherEntry
	ActorID      int64
}

// CancelVoucherInput identifies a voucher to cancel.
type CancelVoucherInput struct {
	VoucherID int64
	ActorID   int64
	Remarks   string
}

// PostVoucher validates and posts a manual journal voucher.
func (s *Service) PostVoucher(ctx context.Context, in PostVoucherInput) (Voucher, error) {
	if err := requireActor(in.ActorID); err != nil {
		return Voucher{}, err
	}
	if in.SocietyID <= 0 {
		return Voucher{}, invalid("society_id", "required")
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	code := normaliseCode(in.BillHeadCode)
	if code == "" {
		code = generalHeadCode
	}
	source := in.SourceID
	if source == uuid.Nil {
		source = uuid.New()
	}
	draft := Voucher{
		SocietyID:     in.SocietyID,
		Type:          VoucherJournal,
		Date:          date,
		ReferenceType: RefManual,
		SourceID:      source,
		Narration:     strings.TrimSpace(in.Narration),
		Entries:       in.Entries,
		CreatedBy:     in.ActorID,
	}
	if err := validateVoucher(draft); err != nil {
		return Voucher{}, err
	}
	var posted Voucher
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.retryNumbered(ctx, tx, func(ctx context.Context, tx TxRepository) error {
			v := draft
			number, err := s.nextVoucherNumber(ctx, tx, v.SocietyID, journalPrefix(code, date))
			if err != nil {
				return err
			}
			v.VoucherNumber = number
			posted, err = s.postVoucher(ctx, tx, v)
			return err
		})
	})
	if err != nil {
		return Voucher{}, err
	}
	s.bumpBalances(ctx)
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "voucher.post",
		Entity:   "voucher",
		EntityID: idString(posted.ID),
		Meta:     map[string]any{"number": posted.VoucherNumber, "type": string(posted.Type)},
	})
	return posted, nil
}

// CancelVoucher reverses a voucher by posting its mirror entries and marks
// the original Cancelled. It returns the mirror voucher.
func (s *Service) CancelVoucher(ctx context.Context, in CancelVoucherInput) (Voucher, error) {
	if err := requireActor(in.ActorID); err != nil {
		return Voucher{}, err
	}
	var original, mirror Voucher
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		original, mirror, err = s.cancelVoucher(ctx, tx, in.VoucherID, in.ActorID, in.Remarks)
		return err
	})
	if err != nil {
		s.record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "voucher.cancel",
			Status:   shared.AuditFailure,
			Entity:   "voucher",
			EntityID: idString(in.VoucherID),
			Meta:     map[string]any{"error": err.Error()},
		})
		return Voucher{}, err
	}
	s.bumpBalances(ctx)
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "voucher.cancel",
		Entity:   "voucher",
		EntityID: idString(original.ID),
		Meta:     map[string]any{"number": original.VoucherNumber, "reversal": mirror.VoucherNumber, "remarks": in.Remarks},
	})
	return mirror, nil
}

// GenerateVoucherNumber issues the next journal voucher number for a bill head and date.
func (s *Service) GenerateVoucherNumber(ctx context.Context, societyID int64, billHeadCode string, date time.Time) (string, error) {
	code := normaliseCode(billHeadCode)
	if code == "" {
		return "", invalid("bill_head_code", "required")
	}
	var number string
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		number, err = s.nextVoucherNumber(ctx, tx, societyID, journalPrefix(code, date))
		return err
	})
	return number, err
}

// GetVoucher loads a voucher with its entries.
func (s *Service) GetVoucher(ctx context.Context, id int64) (Voucher, error) {
	var v Voucher
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		v, err = tx.GetVoucher(ctx, id)
		return err
	})
	return v, err
}

// ListVouchers returns the vouchers raised for a bill, payment or voucher.
func (s *Service) ListVouchers(ctx context.Context, refType ReferenceType, refID int64) ([]Voucher, error) {
	var out []Voucher
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListVouchersByReference(ctx, refType, refID)
		return err
	})
	return out, err
}

func (s *Service) cancelVoucher(ctx context.Context, tx TxRepository, id, actorID int64, remarks string) (Voucher, Voucher, error) {
	original, err := tx.GetVoucherForUpdate(ctx, id)
	if err != nil {
		return Voucher{}, Voucher{}, err
	}
	if original.Status != VoucherActive {
		return Voucher{}, Voucher{}, fmt.Errorf("%w: voucher %s is %s", ErrInvalidStateTransition, original.VoucherNumber, original.Status)
	}
	switch original.Type {
	case VoucherReversal:
		return Voucher{}, Voucher{}, fmt.Errorf("%w: reversal voucher %s cannot be cancelled", ErrInvalidStateTransition, original.VoucherNumber)
	case VoucherReceipt:
		return Voucher{}, Voucher{}, fmt.Errorf("%w: receipt voucher %s records money received", ErrInvalidStateTransition, original.VoucherNumber)
	}
	now := s.now()
	var bill *Bill
	if original.ReferenceType == RefBill {
		b, err := tx.GetBillForUpdate(ctx, original.ReferenceID)
		if err != nil {
			return Voucher{}, Voucher{}, err
		}
		if b.PaidAmount > 0 || b.PenaltyPaid > 0 {
			return Voucher{}, Voucher{}, fmt.Errorf("%w: bill %s has received %s", ErrInvalidStateTransition, b.BillNumber, formatINR(b.PaidAmount+b.PenaltyPaid))
		}
		bill = &b
	}
	mirror := Voucher{
		SocietyID:     original.SocietyID,
		Type:          VoucherReversal,
		Date:          now,
		ReferenceType: RefVoucher,
		ReferenceID:   original.ID,
		BillHeadID:    original.BillHeadID,
		SourceID:      sourceID("voucher.reversal", original.ID),
		Narration:     strings.TrimSpace("Reversal of " + original.VoucherNumber + ". " + remarks),
		Entries:       mirrorEntries(original.Entries),
		ReversalOf:    &original.ID,
		CreatedBy:     actorID,
	}
	err = s.retryNumbered(ctx, tx, func(ctx context.Context, tx TxRepository) error {
		v := mirror
		number, err := s.nextVoucherNumber(ctx, tx, v.SocietyID, reversalPrefix(now))
		if err != nil {
			return err
		}
		v.VoucherNumber = number
		mirror, err = s.postVoucher(ctx, tx, v)
		return err
	})
	if err != nil {
		return Voucher{}, Voucher{}, err
	}
	if err := tx.MarkVoucherCancelled(ctx, original.ID, mirror.ID, actorID, remarks, now); err != nil {
		return Voucher{}, Voucher{}, err
	}
	original.Status = VoucherCancelled
	original.ReversedBy = &mirror.ID
	if bill != nil {
		actor := actorID
		bill.Status = BillCancelled
		bill.CancelledBy = &actor
		bill.CancelledAt = &now
		bill.CancelRemarks = remarks
		bill.JournalEntries = append(bill.JournalEntries, mirror.ID)
		if err := s.saveBill(ctx, tx, bill); err != nil {
			return Voucher{}, Voucher{}, err
		}
	}
	return original, mirror, nil
}

// postVoucher persists v and applies every entry to its ledger within tx.
func (s *Service) postVoucher(ctx context.Context, tx TxRepository, v Voucher) (Voucher, error) {
	if err := validateVoucher(v); err != nil {
		return Voucher{}, err
	}
	if v.VoucherNumber == "" {
		return Voucher{}, invalid("voucher_number", "required")
	}
	for i := range v.Entries {
		v.Entries[i].Amount = round2(v.Entries[i].Amount)
	}
	v.Status = VoucherActive
	if v.SourceID == uuid.Nil {
		v.SourceID = uuid.New()
	}
	inserted, err := tx.InsertVoucher(ctx, v)
	if err != nil {
		return Voucher{}, err
	}
	for _, e := range inserted.Entries {
		l, err := UpdateBalance(ctx, tx, e.LedgerID, e.Amount, e.Type)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Voucher{}, fmt.Errorf("%w: ledger %d", ErrLedgerNotFound, e.LedgerID)
			}
			return Voucher{}, err
		}
		if l.SocietyID != v.SocietyID {
			return Voucher{}, invalid("entries", "ledger %s belongs to another society", l.Code)
		}
	}
	s.metrics.VoucherPosted(string(inserted.Type))
	return inserted, nil
}

// validateVoucher enforces the double-entry invariant.
func validateVoucher(v Voucher) error {
	if len(v.Entries) < 2 {
		return invalid("entries", "at least two entries required")
	}
	var debit, credit []float64
	for i, e := range v.Entries {
		if e.LedgerID <= 0 {
			return invalid(fmt.Sprintf("entries[%d].ledger_id", i), "required")
		}
		if e.Amount < 0 {
			return invalid(fmt.Sprintf("entries[%d].amount", i), "must not be negative")
		}
		switch e.Type {
		case Debit:
			debit = append(debit, e.Amount)
		case Credit:
			credit = append(credit, e.Amount)
		default:
			return invalid(fmt.Sprintf("entries[%d].type", i), "unknown entry type %q", e.Type)
		}
	}
	totalDebit, totalCredit := sumMoney(debit...), sumMoney(credit...)
	if !moneyEqual(totalDebit, totalCredit) {
		return fmt.Errorf("%w: debits %.2f, credits %.2f", ErrUnbalancedVoucher, totalDebit, totalCredit)
	}
	if totalDebit == 0 {
		return invalid("entries", "voucher total must be greater than zero")
	}
	return nil
}

func mirrorEntries(entries []VoucherEntry) []VoucherEntry {
	out := make([]VoucherEntry, len(entries))
	for i, e := range entries {
		side := Debit
		if e.Type == Debit {
			side = Credit
		}
		out[i] = VoucherEntry{
			LedgerID:    e.LedgerID,
			Type:        side,
			Amount:      e.Amount,
			Description: strings.TrimSpace("Reversal: " + e.Description),
		}
	}
	return out
}

// retryNumbered runs fn in a savepoint, retrying when a concurrent writer
// took the document number fn proposed. Claims from a rolled-back savepoint
// are released at once.
func (s *Service) retryNumbered(ctx context.Context, tx TxRepository, fn func(context.Context, TxRepository) error) error {
	parent := sequence.HeldFrom(ctx)
	var err error
	for attempt := 0; attempt <= s.itemRetries; attempt++ {
		held := &sequence.Held{}
		err = tx.Savepoint(sequence.WithHeld(ctx, held), fn)
		if err != nil {
			s.numbers.Release(ctx, held)
		} else {
			parent.Adopt(held)
		}
		if !errors.Is(err, ErrSequenceCollision) {
			return err
		}
		s.logger.Warn("document number collision, retrying", "attempt", attempt+1)
	}
	return err
}

func (s *Service) nextVoucherNumber(ctx context.Context, tx TxRepository, societyID int64, prefix string) (string, error) {
	return s.numbers.Next(ctx, tx, sequence.Scope{SocietyID: societyID, Kind: sequence.KindVoucher}, sequence.Pattern{Prefix: prefix, Width: voucherNumberWidth})
}

func (s *Service) nextBillNumber(ctx context.Context, tx TxRepository, societyID int64, code string) (string, error) {
	return s.numbers.Next(ctx, tx, sequence.Scope{SocietyID: societyID, Kind: sequence.KindBill}, sequence.Pattern{Prefix: code, Width: billNumberWidth})
}

func journalPrefix(code string, date time.Time) string {
	return "JV/" + code + "/" + date.Format("20060102") + "/"
}

func receiptPrefix(date time.Time) string {
	return "RCP/" + date.Format("0601") + "/"
}

func reversalPrefix(date time.Time) string {
	return "REV/" + date.Format("20060102") + "/"
}

func sourceID(kind string, id int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d", kind, id)))
}
