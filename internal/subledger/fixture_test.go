package subledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/societyhub/societyhub/internal/shared"
	"github.com/societyhub/societyhub/internal/subledger/sequence"
)

const (
	societyID int64 = 1
	adminID   int64 = 1
)

var testNow = time.Date(2024, time.May, 6, 9, 30, 0, 0, time.UTC)

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action+":"+l.Status)
	}
	return out
}

type fixture struct {
	t     *testing.T
	repo  *memRepo
	svc   *Service
	audit *recordingAudit
	clock time.Time
}

// claimTTL matches the BILLING_SEQUENCE_CLAIM_TTL default.
const claimTTL = 30 * time.Second

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithClaims(t, sequence.NewMemoryClaims(claimTTL))
}

func newFixtureWithClaims(t *testing.T, claims sequence.Claimer) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := newMemRepo()
	audit := &recordingAudit{}
	numbers := sequence.NewGenerator(claims, sequence.Config{}, logger)
	f := &fixture{t: t, repo: repo, audit: audit, clock: testNow}
	f.svc = NewService(repo, audit, numbers, logger, Config{})
	f.svc.WithNow(func() time.Time { return f.clock })
	return f
}

func (f *fixture) createHead(in CreateBillHeadInput) BillHead {
	f.t.Helper()
	if in.SocietyID == 0 {
		in.SocietyID = societyID
	}
	if in.ActorID == 0 {
		in.ActorID = adminID
	}
	if in.Name == "" {
		in.Name = in.Code
	}
	if in.Category == "" {
		in.Category = "Maintenance"
	}
	head, err := f.svc.CreateBillHead(context.Background(), in)
	require.NoError(f.t, err)
	return head
}

// maintenanceHead is a fixed 1000 charge with 9% CGST and 9% SGST.
func (f *fixture) maintenanceHead() BillHead {
	return f.createHead(CreateBillHeadInput{
		Code:            "MAINT",
		Name:            "Monthly Maintenance",
		Category:        "Maintenance",
		SubCategory:     "Monthly",
		CalculationType: CalcFixed,
		FixedAmount:     1000,
		DueDays:         15,
		GST:             GSTConfig{IsApplicable: true, CGST: 9, SGST: 9},
	})
}

func (f *fixture) generate(head BillHead, residentID int64, unit string) Bill {
	f.t.Helper()
	bill, err := f.svc.GenerateBill(context.Background(), GenerateBillInput{
		BillHeadID: head.ID,
		Target:     BillTarget{ResidentID: residentID, UnitNumber: unit},
		Period:     BillingPeriod{IssueDate: f.clock},
		ActorID:    adminID,
	})
	require.NoError(f.t, err)
	return bill
}

func (f *fixture) ledger(id int64) Ledger {
	f.t.Helper()
	l, err := f.svc.GetLedger(context.Background(), id)
	require.NoError(f.t, err)
	return l
}

func (f *fixture) voucher(id int64) Voucher {
	f.t.Helper()
	v, err := f.svc.GetVoucher(context.Background(), id)
	require.NoError(f.t, err)
	return v
}

func (f *fixture) balances() map[int64]float64 {
	out := map[int64]float64{}
	for id, l := range f.repo.snapshot().ledgers {
		out[id] = l.CurrentBalance
	}
	return out
}

func requireBalancedVouchers(t *testing.T, repo *memRepo) {
	t.Helper()
	for _, v := range repo.snapshot().vouchers {
		var debit, credit []float64
		for _, e := range v.Entries {
			if e.Type == Debit {
				debit = append(debit, e.Amount)
			} else {
				credit = append(credit, e.Amount)
			}
		}
		require.InDelta(t, sumMoney(debit...), sumMoney(credit...), Tolerance, "voucher %s", v.VoucherNumber)
	}
}

func requireNoDrift(t *testing.T, svc *Service) {
	t.Helper()
	report, err := svc.VerifyLedgers(context.Background(), societyID)
	require.NoError(t, err)
	require.Positive(t, report.Checked)
	require.Empty(t, report.Drifted)
}
