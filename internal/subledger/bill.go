package subledger

import (
	"time"
)

// BillKind discriminates the bill variants.
type BillKind string

const (
	KindUtility     BillKind = "Utility"
	KindMaintenance BillKind = "Maintenance"
	KindAmenity     BillKind = "Amenity"
)

type billKindInfo struct {
	label       string
	auditEntity string
	needsUsage  bool
}

var billKinds = map[BillKind]billKindInfo{
	KindUtility:     {label: "Utility bill", auditEntity: "utility_bill", needsUsage: true},
	KindMaintenance: {label: "Maintenance bill", auditEntity: "maintenance_bill"},
	KindAmenity:     {label: "Amenity bill", auditEntity: "amenity_bill"},
}

func lookupBillKind(kind BillKind) (billKindInfo, error) {
	info, ok := billKinds[kind]
	if !ok {
		return billKindInfo{}, invalid("bill_kind", "unknown bill kind %q", kind)
	}
	return info, nil
}

// Valid reports whether kind is a known variant.
func (k BillKind) Valid() bool {
	_, ok := billKinds[k]
	return ok
}

// Outstanding is the unpaid principal plus unpaid penalty.
func (b Bill) Outstanding() float64 {
	return round2(b.RemainingAmount + b.PenaltyDue())
}

// PenaltyDue is the penalty not yet collected.
func (b Bill) PenaltyDue() float64 {
	due := round2(b.PenaltyAmount - b.PenaltyPaid)
	if due < 0 {
		return 0
	}
	return due
}

// recomputeBill derives remaining amount and status from totals. It runs
// after every load and before every persist.
func recomputeBill(b *Bill, now time.Time) {
	b.RemainingAmount = round2(b.TotalAmount - b.PaidAmount)
	if b.RemainingAmount < 0 {
		b.RemainingAmount = 0
	}
	if b.Status == BillCancelled {
		return
	}
	switch {
	case b.Outstanding() <= Tolerance:
		b.Status = BillPaid
	case now.After(b.DueDate):
		b.Status = BillOverdue
	case b.PaidAmount > 0:
		b.Status = BillPartiallyPaid
	default:
		b.Status = BillPending
	}
}
