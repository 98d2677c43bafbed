package subledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateBillPostsSalesVoucherWithGST(t *testing.T) {
	f := newFixture(t)
	head := f.maintenanceHead()
	require.NotNil(t, head.Accounting.GSTLedgerID)

	bill := f.generate(head, 101, "A-101")

	require.Equal(t, "MAINT000001", bill.BillNumber)
	require.Equal(t, "2024-05", bill.PeriodKey)
	require.Equal(t, KindMaintenance, bill.Kind)
	require.Equal(t, BillPending, bill.Status)
	require.InDelta(t, 1000, bill.BaseAmount, 0.001)
	require.InDelta(t, 90, bill.GST.CGST, 0.001)
	require.InDelta(t, 90, bill.GST.SGST, 0.001)
	require.InDelta(t, 1180, bill.TotalAmount, 0.001)
	require.InDelta(t, 1180, bill.RemainingAmount, 0.001)
	require.Equal(t, time.Date(2024, time.May, 21, 0, 0, 0, 0, time.UTC), bill.DueDate)
	require.Len(t, bill.JournalEntries, 1)

	v := f.voucher(bill.JournalEntries[0])
	require.Equal(t, "JV/MAINT/20240506/0001", v.VoucherNumber)
	require.Equal(t, VoucherSales, v.Type)
	require.Equal(t, RefBill, v.ReferenceType)
	require.Equal(t, bill.ID, v.ReferenceID)
	require.Equal(t, sourceID("bill", bill.ID), v.SourceID)

	var debits, credits int
	for _, e := range v.Entries {
		if e.Type == Debit {
			debits++
			require.Equal(t, head.Accounting.ReceivableLedgerID, e.LedgerID)
			require.InDelta(t, 1180, e.Amount, 0.001)
		} else {
			credits++
		}
	}
	require.Equal(t, 1, debits)
	require.Equal(t, 3, credits)

	require.InDelta(t, 1180, f.ledger(head.Accounting.ReceivableLedgerID).CurrentBalance, 0.001)
	require.InDelta(t, 1000, f.ledger(head.Accounting.IncomeLedgerID).CurrentBalance, 0.001)
	require.InDelta(t, 180, f.ledger(*head.Accounting.GSTLedgerID).CurrentBalance, 0.001)
	require.Equal(t, BalanceDebit, GetBalanceType(f.ledger(head.Accounting.ReceivableLedgerID)))
	require.Equal(t, BalanceCredit, GetBalanceType(f.ledger(head.Accounting.IncomeLedgerID)))

	requireBalancedVouchers(t, f.repo)
	requireNoDrift(t, f.svc)
	require.Contains(t, f.audit.actions(), "bill.generate:success")
}

func TestGenerateBillNumbersIncrement(t *testing.T) {
	f := newFixture(t)
	head := f.maintenanceHead()

	first := f.generate(head, 101, "A-101")
	second := f.generate(head, 102, "A-102")

	require.Equal(t, "MAINT000001", first.BillNumber)
	require.Equal(t, "MAINT000002", second.BillNumber)
	require.Equal(t, "JV/MAINT/20240506/0002", f.voucher(second.JournalEntries[0]).VoucherNumber)
}

func TestGenerateBillCalculationTypes(t *testing.T) {
	f := newFixture(t)
	f.svc.RegisterCharge("area", func(_ context.Context, _ BillHead, target BillTarget, _ BillingPeriod) (float64, error) {
		return 1234.567, nil
	})

	cases := []struct {
		name  string
		head  CreateBillHeadInput
		usage float64
		want  float64
	}{
		{
			name:  "per unit",
			head:  CreateBillHeadInput{Code: "WATER", Category: "Utility", SubCategory: "Water", Kind: KindUtility, CalculationType: CalcPerUnit, PerUnitRate: 8.25},
			usage: 101,
			want:  833.25,
		},
		{
			name:  "formula",
			head:  CreateBillHeadInput{Code: "POWER", Category: "Utility", SubCategory: "Power", Kind: KindUtility, CalculationType: CalcFormula, PerUnitRate: 7.5, Formula: "unitUsage * rate + 50"},
			usage: 120,
			want:  950,
		},
		{
			name: "custom",
			head: CreateBillHeadInput{Code: "SINK", Category: "Fund", SubCategory: "Sinking", CalculationType: CalcCustom, CustomCharge: "area"},
			want: 1234.57,
		},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			head := f.createHead(tc.head)
			bill, err := f.svc.GenerateBill(context.Background(), GenerateBillInput{
				BillHeadID: head.ID,
				Target:     BillTarget{ResidentID: int64(200 + i), UnitNumber: "B-1", UnitUsage: tc.usage},
				ActorID:    adminID,
			})
			require.NoError(t, err)
			require.InDelta(t, tc.want, bill.BaseAmount, 0.001)
			require.InDelta(t, tc.want, bill.TotalAmount, 0.001)
		})
	}
	requireBalancedVouchers(t, f.repo)
}

func TestGenerateBillRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	water := f.createHead(CreateBillHeadInput{Code: "WATER", Category: "Utility", SubCategory: "Water", Kind: KindUtility, CalculationType: CalcPerUnit, PerUnitRate: 10})
	maint := f.maintenanceHead()

	cases := []struct {
		name   string
		head   BillHead
		target BillTarget
	}{
		{"missing resident", maint, BillTarget{UnitNumber: "A-1"}},
		{"missing unit", maint, BillTarget{ResidentID: 1}},
		{"utility without usage", water, BillTarget{ResidentID: 1, UnitNumber: "A-1"}},
		{"negative usage", water, BillTarget{ResidentID: 1, UnitNumber: "A-1", UnitUsage: -4}},
		{"unnamed charge", maint, BillTarget{ResidentID: 1, UnitNumber: "A-1", AdditionalCharges: []AdditionalCharge{{Amount: 10}}}},
		{"zero charge", maint, BillTarget{ResidentID: 1, UnitNumber: "A-1", AdditionalCharges: []AdditionalCharge{{Name: "Parking"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.GenerateBill(context.Background(), GenerateBillInput{BillHeadID: tc.head.ID, Target: tc.target, ActorID: adminID})
			require.ErrorIs(t, err, ErrValidation)
		})
	}
	require.Empty(t, f.repo.snapshot().bills)
	require.Empty(t, f.repo.snapshot().vouchers)

	_, err := f.svc.GenerateBill(context.Background(), GenerateBillInput{BillHeadID: maint.ID, Target: BillTarget{ResidentID: 1, UnitNumber: "A-1"}})
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, f.audit.actions(), "bill.generate:failure")
}

func TestGenerateBillMissingGSTLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	income, err := f.svc.CreateLedger(ctx, CreateLedgerInput{SocietyID: societyID, Code: "CLUBINC", Name: "Club Income", Type: LedgerIncome, ActorID: adminID})
	require.NoError(t, err)
	receivable, err := f.svc.CreateLedger(ctx, CreateLedgerInput{SocietyID: societyID, Code: "CLUBREC", Name: "Club Receivable", Type: LedgerAsset, ActorID: adminID})
	require.NoError(t, err)
	head := f.createHead(CreateBillHeadInput{
		Code:            "CLUB",
		Category:        "Amenity",
		Kind:            KindAmenity,
		CalculationType: CalcFixed,
		FixedAmount:     500,
		GST:             GSTConfig{IsApplicable: true, IGST: 18},
		Accounting:      AccountingConfig{IncomeLedgerID: income.ID, ReceivableLedgerID: receivable.ID},
	})

	_, err = f.svc.GenerateBill(ctx, GenerateBillInput{BillHeadID: head.ID, Target: BillTarget{ResidentID: 1, UnitNumber: "A-1"}, ActorID: adminID})
	require.ErrorIs(t, err, ErrMissingLedgerConfig)
	require.Zero(t, f.ledger(receivable.ID).CurrentBalance)
}

func TestGenerateBillAdditionalCharges(t *testing.T) {
	f := newFixture(t)
	head := f.createHead(CreateBillHeadInput{Code: "MAINT", Category: "Maintenance", CalculationType: CalcFixed, FixedAmount: 1000})

	bill, err := f.svc.GenerateBill(context.Background(), GenerateBillInput{
		BillHeadID: head.ID,
		Target: BillTarget{ResidentID: 7, UnitNumber: "C-7", AdditionalCharges: []AdditionalCharge{
			{Name: "Parking", Amount: 250},
			{Name: "Pet fee", Amount: 99.999},
		}},
		ActorID: adminID,
	})
	require.NoError(t, err)
	require.InDelta(t, 1350, bill.TotalAmount, 0.001)
	require.InDelta(t, 1350, f.ledger(head.Accounting.IncomeLedgerID).CurrentBalance, 0.001)
	require.InDelta(t, 1350, f.ledger(head.Accounting.ReceivableLedgerID).CurrentBalance, 0.001)
}

func TestGenerateBillRejectsSecondBillForPeriod(t *testing.T) {
	f := newFixture(t)
	head := f.maintenanceHead()
	f.generate(head, 101, "A-101")

	_, err := f.svc.GenerateBill(context.Background(), GenerateBillInput{BillHeadID: head.ID, Target: BillTarget{ResidentID: 101, UnitNumber: "A-101"}, ActorID: adminID})
	require.ErrorIs(t, err, ErrDuplicate)

	f.clock = testNow.AddDate(0, 1, 0)
	next := f.generate(head, 101, "A-101")
	require.Equal(t, "2024-06", next.PeriodKey)
}

func TestGenerateBulkKeepsSuccessesAndReportsFailures(t *testing.T) {
	f := newFixture(t)
	head := f.maintenanceHead()
	targets := []BillTarget{
		{ResidentID: 1, UnitNumber: "A-1"},
		{ResidentID: 0, UnitNumber: "A-2"},
		{ResidentID: 3, UnitNumber: "A-3"},
	}

	res, err := f.svc.GenerateBulk(context.Background(), GenerateBulkInput{BillHeadID: head.ID, Targets: targets, ActorID: adminID})
	require.NoError(t, err)
	require.Len(t, res.Success, 2)
	require.Len(t, res.Failed, 1)
	require.Equal(t, "A-2", res.Failed[0].UnitNumber)
	require.Contains(t, res.Failed[0].Reason, "resident_id")
	require.InDelta(t, 2360, f.ledger(head.Accounting.ReceivableLedgerID).CurrentBalance, 0.001)
	requireNoDrift(t, f.svc)
}

func TestGenerateBulkIsIdempotentPerPeriod(t *testing.T) {
	f := newFixture(t)
	head := f.maintenanceHead()
	targets := []BillTarget{{ResidentID: 1, UnitNumber: "A-1"}, {ResidentID: 2, UnitNumber: "A-2"}, {ResidentID: 3, UnitNumber: "A-3"}}
	in := GenerateBulkInput{BillHeadID: head.ID, Targets: targets, ActorID: adminID}

	first, err := f.svc.GenerateBulk(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, first.Success, 3)
	balance := f.ledger(head.Accounting.ReceivableLedgerID).CurrentBalance

	second, err := f.svc.GenerateBulk(context.Background(), in)
	require.NoError(t, err)
	require.Empty(t, second.Success)
	require.Len(t, second.Failed, 3)
	for _, failure := range second.Failed {
		require.Equal(t, "already generated for period 2024-05", failure.Reason)
	}
	require.Len(t, f.repo.snapshot().bills, 3)
	require.InDelta(t, balance, f.ledger(head.Accounting.ReceivableLedgerID).CurrentBalance, 0.001)
}

func TestGenerateBulkConcurrentRunsIssueUniqueNumbers(t *testing.T) {
	f := newFixture(t)
	head := f.maintenanceHead()

	const batches, perBatch = 4, 5
	var wg sync.WaitGroup
	errs := make(chan error, batches)
	for b := 0; b < batches; b++ {
		targets := make([]BillTarget, 0, perBatch)
		for i := 0; i < perBatch; i++ {
			id := int64(b*perBatch + i + 1)
			targets = append(targets, BillTarget{ResidentID: id, UnitNumber: fmt.Sprintf("U-%d", id)})
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.GenerateBulk(context.Background(), GenerateBulkInput{BillHeadID: head.ID, Targets: targets, ActorID: adminID})
			if err == nil && len(res.Failed) > 0 {
				err = errors.New(res.Failed[0].Reason)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap := f.repo.snapshot()
	require.Len(t, snap.bills, batches*perBatch)
	billNumbers := map[string]bool{}
	for _, b := range snap.bills {
		require.False(t, billNumbers[b.BillNumber], "duplicate bill number %s", b.BillNumber)
		billNumbers[b.BillNumber] = true
	}
	voucherNumbers := map[string]bool{}
	for _, v := range snap.vouchers {
		require.False(t, voucherNumbers[v.VoucherNumber], "duplicate voucher number %s", v.VoucherNumber)
		voucherNumbers[v.VoucherNumber] = true
	}
	require.Len(t, voucherNumbers, batches*perBatch)
	require.InDelta(t, 1180*batches*perBatch, f.ledger(head.Accounting.ReceivableLedgerID).CurrentBalance, 0.001)
	requireNoDrift(t, f.svc)
}

func TestGenerateBillRejectsInactiveHead(t *testing.T) {
	f := newFixture(t)
	head := f.maintenanceHead()
	inactive := false
	_, err := f.svc.UpdateBillHead(context.Background(), UpdateBillHeadInput{ID: head.ID, IsActive: &inactive, ActorID: adminID})
	require.NoError(t, err)

	_, err = f.svc.GenerateBill(context.Background(), GenerateBillInput{BillHeadID: head.ID, Target: BillTarget{ResidentID: 1, UnitNumber: "A-1"}, ActorID: adminID})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.GenerateBill(context.Background(), GenerateBillInput{BillHeadID: 9999, Target: BillTarget{ResidentID: 1, UnitNumber: "A-1"}, ActorID: adminID})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCancelBillReversesSalesVoucher(t *testing.T) {
	f := newFixture(t)
	head := f.maintenanceHead()
	before := f.balances()
	bill := f.generate(head, 101, "A-101")

	cancelled, err := f.svc.CancelBill(context.Background(), CancelBillInput{BillID: bill.ID, ActorID: adminID, Remarks: "raised twice"})
	require.NoError(t, err)
	require.Equal(t, BillCancelled, cancelled.Status)
	require.Equal(t, "raised twice", cancelled.CancelRemarks)
	require.Len(t, cancelled.JournalEntries, 2)

	original := f.voucher(bill.JournalEntries[0])
	require.Equal(t, VoucherCancelled, original.Status)
	require.NotNil(t, original.ReversedBy)
	mirror := f.voucher(*original.ReversedBy)
	require.Equal(t, VoucherReversal, mirror.Type)
	require.Equal(t, "REV/20240506/0001", mirror.VoucherNumber)
	require.Equal(t, original.ID, *mirror.ReversalOf)

	for id, bal := range f.balances() {
		require.InDelta(t, before[id], bal, 0.001, "ledger %d", id)
	}
	requireNoDrift(t, f.svc)

	_, err = f.svc.CancelBill(context.Background(), CancelBillInput{BillID: bill.ID, ActorID: adminID})
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	again := f.generate(head, 101, "A-101")
	require.Equal(t, "2024-05", again.PeriodKey)
}

func TestListBillsEvaluatesStatus(t *testing.T) {
	f := newFixture(t)
	head := f.maintenanceHead()
	f.generate(head, 101, "A-101")
	f.generate(head, 102, "A-102")

	f.clock = testNow.AddDate(0, 1, 0)
	bills, err := f.svc.ListBills(context.Background(), BillFilter{SocietyID: societyID, ResidentID: 102})
	require.NoError(t, err)
	require.Len(t, bills, 1)
	require.Equal(t, BillOverdue, bills[0].Status)

	stored := f.repo.snapshot().bills[bills[0].ID]
	require.Equal(t, BillPending, stored.Status)
}

func TestPeriodFor(t *testing.T) {
	date := time.Date(2024, time.August, 17, 15, 4, 5, 0, time.UTC)
	cases := map[Frequency]string{
		FrequencyMonthly:    "2024-08",
		FrequencyQuarterly:  "2024-Q3",
		FrequencyHalfYearly: "2024-H2",
		FrequencyYearly:     "2024",
		FrequencyOneTime:    "2024-08-17",
	}
	for freq, want := range cases {
		p := PeriodFor(freq, date)
		require.Equal(t, want, p.Key, string(freq))
		require.Equal(t, time.Date(2024, time.August, 17, 0, 0, 0, 0, time.UTC), p.IssueDate)
	}
}
