package subledger

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/societyhub/societyhub/internal/shared"
)

// debitNormal reports whether debits increase balances of type t.
func debitNormal(t LedgerType) bool {
	return t == LedgerAsset || t == LedgerExpense
}

func validLedgerType(t LedgerType) bool {
	switch t {
	case LedgerAsset, LedgerLiability, LedgerIncome, LedgerExpense, LedgerEquity:
		return true
	}
	return false
}

// signedAmount returns the balance delta of posting amount on side entry.
func signedAmount(t LedgerType, entry EntryType, amount float64) float64 {
	if (entry == Debit) == debitNormal(t) {
		return amount
	}
	return -amount
}

// GetBalanceType derives the side of a ledger's balance from its sign and type.
func GetBalanceType(l Ledger) BalanceType {
	if math.Abs(l.CurrentBalance) < Tolerance {
		return BalanceBalanced
	}
	positive := l.CurrentBalance > 0
	if debitNormal(l.Type) == positive {
		return BalanceDebit
	}
	return BalanceCredit
}

// UpdateBalance is the only path that changes a ledger balance. It locks the
// row, applies the sign convention and persists within tx.
func UpdateBalance(ctx context.Context, tx TxRepository, ledgerID int64, amount float64, entry EntryType) (Ledger, error) {
	if amount < 0 {
		return Ledger{}, invalid("amount", "must not be negative")
	}
	if entry != Debit && entry != Credit {
		return Ledger{}, invalid("type", "unknown entry type %q", entry)
	}
	l, err := tx.GetLedgerForUpdate(ctx, ledgerID)
	if err != nil {
		return Ledger{}, err
	}
	if l.Status != LedgerActive {
		return Ledger{}, invalid("ledger_id", "ledger %s is %s", l.Code, strings.ToLower(string(l.Status)))
	}
	l.CurrentBalance = round2(l.CurrentBalance + signedAmount(l.Type, entry, amount))
	if err := tx.UpdateLedgerBalance(ctx, l.ID, l.CurrentBalance); err != nil {
		return Ledger{}, err
	}
	return l, nil
}

// CreateLedgerInput describes an explicitly created ledger.
type CreateLedgerInput struct {
	SocietyID      int64
	Code           string
	Name           string
	Type           LedgerType
	OpeningBalance float64
	BillCategory   string
	SubCategory    string
	ActorID        int64
}

// CreateLedger adds a chart-of-accounts row.
func (s *Service) CreateLedger(ctx context.Context, in CreateLedgerInput) (Ledger, error) {
	if err := requireActor(in.ActorID); err != nil {
		return Ledger{}, err
	}
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	switch {
	case in.SocietyID <= 0:
		return Ledger{}, invalid("society_id", "required")
	case code == "":
		return Ledger{}, invalid("code", "required")
	case strings.TrimSpace(in.Name) == "":
		return Ledger{}, invalid("name", "required")
	case !validLedgerType(in.Type):
		return Ledger{}, invalid("type", "unknown ledger type %q", in.Type)
	}
	var created Ledger
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		l, err := tx.InsertLedger(ctx, Ledger{
			SocietyID:      in.SocietyID,
			Code:           code,
			Name:           strings.TrimSpace(in.Name),
			Type:           in.Type,
			OpeningBalance: round2(in.OpeningBalance),
			CurrentBalance: round2(in.OpeningBalance),
			BillCategory:   in.BillCategory,
			SubCategory:    in.SubCategory,
			Status:         LedgerActive,
		})
		if err != nil {
			return err
		}
		created = l
		return nil
	})
	if err != nil {
		return Ledger{}, err
	}
	s.bumpBalances(ctx)
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "ledger.create",
		Entity:   "ledger",
		EntityID: idString(created.ID),
		Meta:     map[string]any{"code": created.Code, "type": string(created.Type)},
	})
	return created, nil
}

// GetLedger loads a ledger.
func (s *Service) GetLedger(ctx context.Context, id int64) (Ledger, error) {
	var l Ledger
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		l, err = tx.GetLedger(ctx, id)
		return err
	})
	return l, err
}

// ListLedgers returns a society's chart of accounts.
func (s *Service) ListLedgers(ctx context.Context, societyID int64) ([]Ledger, error) {
	var out []Ledger
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListLedgers(ctx, societyID)
		return err
	})
	return out, err
}

// FreezeLedger blocks further postings to a ledger.
func (s *Service) FreezeLedger(ctx context.Context, id, actorID int64) (Ledger, error) {
	return s.setLedgerStatus(ctx, id, actorID, LedgerFrozen)
}

// InactivateLedger retires a ledger. Ledgers are never deleted.
func (s *Service) InactivateLedger(ctx context.Context, id, actorID int64) (Ledger, error) {
	return s.setLedgerStatus(ctx, id, actorID, LedgerInactive)
}

// ActivateLedger reopens a frozen ledger.
func (s *Service) ActivateLedger(ctx context.Context, id, actorID int64) (Ledger, error) {
	return s.setLedgerStatus(ctx, id, actorID, LedgerActive)
}

func (s *Service) setLedgerStatus(ctx context.Context, id, actorID int64, status LedgerStatus) (Ledger, error) {
	if err := requireActor(actorID); err != nil {
		return Ledger{}, err
	}
	var l Ledger
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetLedgerForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status == LedgerInactive && status != LedgerInactive {
			return ErrInvalidStateTransition
		}
		if err := tx.UpdateLedgerStatus(ctx, id, status); err != nil {
			return err
		}
		current.Status = status
		l = current
		return nil
	})
	if err != nil {
		return Ledger{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "ledger.status",
		Entity:   "ledger",
		EntityID: idString(id),
		Meta:     map[string]any{"status": string(status)},
	})
	return l, nil
}

// LedgerReplay compares a stored balance with one rebuilt from the voucher log.
type LedgerReplay struct {
	LedgerID   int64   `json:"ledger_id"`
	Code       string  `json:"code"`
	Stored     float64 `json:"stored"`
	Replayed   float64 `json:"replayed"`
	Drift      float64 `json:"drift"`
	Consistent bool    `json:"consistent"`
}

// ReplayLedger rebuilds a ledger's balance from its opening balance and every
// entry ever posted to it.
func (s *Service) ReplayLedger(ctx context.Context, ledgerID int64) (LedgerReplay, error) {
	var out LedgerReplay
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		l, err := tx.GetLedger(ctx, ledgerID)
		if err != nil {
			return err
		}
		out, err = replay(ctx, tx, l)
		return err
	})
	return out, err
}

// IntegrityReport summarises a replay of every ledger in a society.
type IntegrityReport struct {
	SocietyID int64          `json:"society_id"`
	Checked   int            `json:"checked"`
	Drifted   []LedgerReplay `json:"drifted"`
}

// VerifyLedgers replays all ledgers of a society.
func (s *Service) VerifyLedgers(ctx context.Context, societyID int64) (IntegrityReport, error) {
	report := IntegrityReport{SocietyID: societyID}
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ledgers, err := tx.ListLedgers(ctx, societyID)
		if err != nil {
			return err
		}
		for _, l := range ledgers {
			r, err := replay(ctx, tx, l)
			if err != nil {
				return err
			}
			report.Checked++
			if !r.Consistent {
				report.Drifted = append(report.Drifted, r)
			}
		}
		return nil
	})
	return report, err
}

func replay(ctx context.Context, tx TxRepository, l Ledger) (LedgerReplay, error) {
	debit, credit, err := tx.SumLedgerEntries(ctx, l.ID)
	if err != nil {
		return LedgerReplay{}, err
	}
	replayed := round2(l.OpeningBalance + signedAmount(l.Type, Debit, debit) + signedAmount(l.Type, Credit, credit))
	drift := round2(l.CurrentBalance - replayed)
	return LedgerReplay{
		LedgerID:   l.ID,
		Code:       l.Code,
		Stored:     l.CurrentBalance,
		Replayed:   replayed,
		Drift:      drift,
		Consistent: math.Abs(drift) < Tolerance,
	}, nil
}

// ensureSystemLedger returns the cash or bank ledger for a payment mode,
// provisioning it on first use.
func ensureSystemLedger(ctx context.Context, tx TxRepository, societyID int64, mode PaymentMode) (Ledger, error) {
	code, name := "BANK", "Bank Account"
	if mode == ModeCash {
		code, name = "CASH", "Cash in Hand"
	}
	l, err := tx.EnsureLedger(ctx, Ledger{
		SocietyID: societyID,
		Code:      code,
		Name:      name,
		Type:      LedgerAsset,
		Status:    LedgerActive,
	})
	if err != nil {
		return Ledger{}, err
	}
	if l.Type != LedgerAsset {
		return Ledger{}, fmt.Errorf("%w: system ledger %s is not an asset ledger", ErrMissingLedgerConfig, code)
	}
	return l, nil
}
