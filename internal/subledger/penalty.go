package subledger

import "time"

const day = 24 * time.Hour

// CalculatePenalty computes the late fee owed on bill at now.
//
// Fixed charges accrue chargeValue per completed 30-day block. Percentage
// charges accrue base × chargeValue% per block when compounding monthly and
// per day otherwise. Nothing accrues inside the grace period.
func CalculatePenalty(bill Bill, cfg LatePaymentConfig, now time.Time) float64 {
	if !cfg.IsApplicable || bill.Status == BillPaid || bill.Status == BillCancelled {
		return 0
	}
	if !now.After(bill.DueDate) {
		return 0
	}
	daysLate := int(now.Sub(bill.DueDate) / day)
	if daysLate <= cfg.GracePeriodDays {
		return 0
	}
	months := daysLate / 30
	var penalty float64
	switch cfg.ChargeType {
	case PenaltyFixed:
		penalty = cfg.ChargeValue * float64(months)
	case PenaltyPercentage:
		factor := months
		if cfg.CompoundingFrequency != CompoundMonthly {
			factor = daysLate
		}
		penalty = bill.BaseAmount * cfg.ChargeValue / 100 * float64(factor)
	}
	if cfg.MaxPenalty > 0 && penalty > cfg.MaxPenalty {
		penalty = cfg.MaxPenalty
	}
	return round2(penalty)
}

// refreshPenalty updates the cached penalty at most once per calendar day
// and reports whether the bill changed.
func refreshPenalty(b *Bill, cfg LatePaymentConfig, now time.Time) bool {
	if b.Status == BillPaid || b.Status == BillCancelled {
		return false
	}
	if b.LastPenaltyCalculationDate != nil && sameDay(*b.LastPenaltyCalculationDate, now) {
		return false
	}
	penalty := CalculatePenalty(*b, cfg, now)
	if penalty < b.PenaltyPaid {
		penalty = b.PenaltyPaid
	}
	stamp := now
	b.PenaltyAmount = penalty
	b.LastPenaltyCalculationDate = &stamp
	return true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
