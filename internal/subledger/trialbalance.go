package subledger

import (
	"context"
	"math"
)

// TrialBalanceRow is one ledger in a trial balance.
type TrialBalanceRow struct {
	LedgerID    int64       `json:"ledger_id"`
	Code        string      `json:"code"`
	Name        string      `json:"name"`
	Type        LedgerType  `json:"type"`
	Balance     float64     `json:"balance"`
	BalanceType BalanceType `json:"balance_type"`
	Debit       float64     `json:"debit"`
	Credit      float64     `json:"credit"`
}

// TrialBalance lists every ledger of a society with debit and credit totals.
type TrialBalance struct {
	SocietyID   int64             `json:"society_id"`
	Rows        []TrialBalanceRow `json:"rows"`
	TotalDebit  float64           `json:"total_debit"`
	TotalCredit float64           `json:"total_credit"`
	Balanced    bool              `json:"balanced"`
}

// TrialBalance returns the society trial balance, served from the balance
// cache when one is attached.
func (s *Service) TrialBalance(ctx context.Context, societyID int64) (TrialBalance, error) {
	if societyID <= 0 {
		return TrialBalance{}, invalid("society_id", "required")
	}
	key, err := s.cache.BuildKey(ctx, keyTrialBalance(societyID))
	if err != nil {
		return TrialBalance{}, err
	}
	var tb TrialBalance
	err = s.cache.FetchJSON(ctx, key, &tb, func(ctx context.Context) (any, error) {
		return s.buildTrialBalance(ctx, societyID)
	})
	return tb, err
}

func (s *Service) buildTrialBalance(ctx context.Context, societyID int64) (TrialBalance, error) {
	ledgers, err := s.ListLedgers(ctx, societyID)
	if err != nil {
		return TrialBalance{}, err
	}
	tb := TrialBalance{SocietyID: societyID, Rows: make([]TrialBalanceRow, 0, len(ledgers))}
	var debits, credits []float64
	for _, l := range ledgers {
		row := TrialBalanceRow{
			LedgerID:    l.ID,
			Code:        l.Code,
			Name:        l.Name,
			Type:        l.Type,
			Balance:     l.CurrentBalance,
			BalanceType: GetBalanceType(l),
		}
		switch row.BalanceType {
		case BalanceDebit:
			row.Debit = round2(math.Abs(l.CurrentBalance))
			debits = append(debits, row.Debit)
		case BalanceCredit:
			row.Credit = round2(math.Abs(l.CurrentBalance))
			credits = append(credits, row.Credit)
		}
		tb.Rows = append(tb.Rows, row)
	}
	tb.TotalDebit = sumMoney(debits...)
	tb.TotalCredit = sumMoney(credits...)
	tb.Balanced = moneyEqual(tb.TotalDebit, tb.TotalCredit)
	return tb, nil
}
