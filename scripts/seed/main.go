package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/societyhub/societyhub/internal/app"
	"github.com/societyhub/societyhub/internal/platform/db"
	"github.com/societyhub/societyhub/internal/subledger"
)

const seedActor int64 = 1

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	societyID, err := strconv.ParseInt(getenv("SEED_SOCIETY_ID", "1"), 10, 64)
	if err != nil || societyID <= 0 {
		log.Fatalf("SEED_SOCIETY_ID must be a positive integer")
	}

	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	engine := app.NewSubledger(cfg, pool, nil, nil, app.NewLogger(cfg))
	defer engine.Close()
	svc := engine.Service

	fmt.Println("→ Seeding ledgers...")
	if err := seedLedgers(ctx, svc, societyID); err != nil {
		log.Fatalf("seed ledgers: %v", err)
	}

	fmt.Println("→ Seeding bill heads...")
	head, err := seedMaintenanceHead(ctx, svc, societyID)
	if err != nil {
		log.Fatalf("seed bill heads: %v", err)
	}

	fmt.Println("→ Seeding schedule...")
	if err := seedSchedule(ctx, svc, societyID, head.ID); err != nil {
		log.Fatalf("seed schedule: %v", err)
	}

	fmt.Println("✓ Seed complete")
}

func seedLedgers(ctx context.Context, svc *subledger.Service, societyID int64) error {
	ledgers := []subledger.CreateLedgerInput{
		{Code: "CORPUS", Name: "Corpus Fund", Type: subledger.LedgerEquity, OpeningBalance: 500000},
		{Code: "SINKING", Name: "Sinking Fund", Type: subledger.LedgerLiability},
		{Code: "REPAIRS", Name: "Repairs and Maintenance", Type: subledger.LedgerExpense},
	}
	for _, in := range ledgers {
		in.SocietyID = societyID
		in.ActorID = seedActor
		if _, err := svc.CreateLedger(ctx, in); err != nil && !errors.Is(err, subledger.ErrDuplicate) {
			return fmt.Errorf("%s: %w", in.Code, err)
		}
	}
	return nil
}

func seedMaintenanceHead(ctx context.Context, svc *subledger.Service, societyID int64) (subledger.BillHead, error) {
	heads, err := svc.ListBillHeads(ctx, societyID)
	if err != nil {
		return subledger.BillHead{}, err
	}
	for _, h := range heads {
		if h.Code == "MAINT" {
			return h, nil
		}
	}
	return svc.CreateBillHead(ctx, subledger.CreateBillHeadInput{
		SocietyID:       societyID,
		Code:            "MAINT",
		Name:            "Monthly Maintenance",
		Category:        "Maintenance",
		SubCategory:     "Monthly",
		Kind:            subledger.KindMaintenance,
		CalculationType: subledger.CalcPerUnit,
		PerUnitRate:     3.5,
		Frequency:       subledger.FrequencyMonthly,
		DueDays:         15,
		GST:             subledger.GSTConfig{IsApplicable: true, CGST: 9, SGST: 9},
		LatePayment: subledger.LatePaymentConfig{
			IsApplicable:         true,
			GracePeriodDays:      10,
			ChargeType:           subledger.PenaltyPercentage,
			ChargeValue:          1.5,
			CompoundingFrequency: subledger.CompoundMonthly,
			MaxPenalty:           1000,
		},
		ActorID: seedActor,
	})
}

func seedSchedule(ctx context.Context, svc *subledger.Service, societyID, billHeadID int64) error {
	existing, err := svc.ListSchedules(ctx, societyID)
	if err != nil {
		return err
	}
	for _, s := range existing {
		if s.BillHeadID == billHeadID {
			return nil
		}
	}
	targets := make([]subledger.BillTarget, 0, 8)
	for i := 1; i <= 8; i++ {
		targets = append(targets, subledger.BillTarget{
			ResidentID: int64(100 + i),
			UnitNumber: fmt.Sprintf("A-%d0%d", (i+1)/2, i),
			UnitUsage:  float64(850 + 50*i),
		})
	}
	_, err = svc.CreateSchedule(ctx, subledger.CreateScheduleInput{
		SocietyID:  societyID,
		BillHeadID: billHeadID,
		DayOfMonth: time.Now().Day(),
		Targets:    targets,
		ActorID:    seedActor,
	})
	return err
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
