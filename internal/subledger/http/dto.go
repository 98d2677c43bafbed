package subledgerhttp

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/societyhub/societyhub/internal/platform/httpx"
	"github.com/societyhub/societyhub/internal/subledger"
)

const dateLayout = "2006-01-02"

type createLedgerRequest struct {
	Code           string               `json:"code" validate:"required,max=32"`
	Name           string               `json:"name" validate:"required,max=120"`
	Type           subledger.LedgerType `json:"type" validate:"required,oneof=Asset Liability Income Expense Equity"`
	OpeningBalance float64              `json:"opening_balance"`
	BillCategory   string               `json:"bill_category" validate:"max=64"`
	SubCategory    string               `json:"sub_category" validate:"max=64"`
}

type billHeadRequest struct {
	Code            string                      `json:"code" validate:"required,max=16"`
	Name            string                      `json:"name" validate:"required,max=120"`
	Description     string                      `json:"description"`
	Category        string                      `json:"category" validate:"required,max=64"`
	SubCategory     string                      `json:"sub_category" validate:"max=64"`
	Kind            subledger.BillKind          `json:"bill_kind" validate:"omitempty,oneof=Utility Maintenance Amenity"`
	CalculationType subledger.CalculationType   `json:"calculation_type" validate:"required,oneof=Fixed PerUnit Formula Custom"`
	FixedAmount     float64                     `json:"fixed_amount" validate:"gte=0"`
	PerUnitRate     float64                     `json:"per_unit_rate" validate:"gte=0"`
	Formula         string                      `json:"formula"`
	CustomCharge    string                      `json:"custom_charge"`
	Frequency       subledger.Frequency         `json:"frequency" validate:"omitempty,oneof=Monthly Quarterly HalfYearly Yearly OneTime"`
	DueDays         int                         `json:"due_days" validate:"gte=0,lte=365"`
	GST             subledger.GSTConfig         `json:"gst_config"`
	LatePayment     subledger.LatePaymentConfig `json:"late_payment_config"`
	Accounting      subledger.AccountingConfig  `json:"accounting_config"`
}

func (req billHeadRequest) input(societyID, actorID int64) subledger.CreateBillHeadInput {
	return subledger.CreateBillHeadInput{
		SocietyID:       societyID,
		Code:            req.Code,
		Name:            req.Name,
		Description:     req.Description,
		Category:        req.Category,
		SubCategory:     req.SubCategory,
		Kind:            req.Kind,
		CalculationType: req.CalculationType,
		FixedAmount:     req.FixedAmount,
		PerUnitRate:     req.PerUnitRate,
		Formula:         req.Formula,
		CustomCharge:    req.CustomCharge,
		Frequency:       req.Frequency,
		DueDays:         req.DueDays,
		GST:             req.GST,
		LatePayment:     req.LatePayment,
		Accounting:      req.Accounting,
		ActorID:         actorID,
	}
}

type updateBillHeadRequest struct {
	Code            *string                      `json:"code" validate:"omitempty,max=16"`
	Name            *string                      `json:"name" validate:"omitempty,max=120"`
	Description     *string                      `json:"description"`
	Category        *string                      `json:"category" validate:"omitempty,max=64"`
	SubCategory     *string                      `json:"sub_category" validate:"omitempty,max=64"`
	CalculationType *subledger.CalculationType   `json:"calculation_type" validate:"omitempty,oneof=Fixed PerUnit Formula Custom"`
	FixedAmount     *float64                     `json:"fixed_amount" validate:"omitempty,gte=0"`
	PerUnitRate     *float64                     `json:"per_unit_rate" validate:"omitempty,gte=0"`
	Formula         *string                      `json:"formula"`
	CustomCharge    *string                      `json:"custom_charge"`
	Frequency       *subledger.Frequency         `json:"frequency" validate:"omitempty,oneof=Monthly Quarterly HalfYearly Yearly OneTime"`
	DueDays         *int                         `json:"due_days" validate:"omitempty,gte=0,lte=365"`
	GST             *subledger.GSTConfig         `json:"gst_config"`
	LatePayment     *subledger.LatePaymentConfig `json:"late_payment_config"`
	IsActive        *bool                        `json:"is_active"`
}

type resolveLedgersRequest struct {
	Category      string `json:"category" validate:"required,max=64"`
	SubCategory   string `json:"sub_category" validate:"max=64"`
	GSTApplicable bool   `json:"gst_applicable"`
	LatePayment   bool   `json:"late_payment"`
}

type chargeRequest struct {
	Name     string  `json:"name" validate:"required,max=120"`
	Amount   float64 `json:"amount" validate:"gt=0"`
	LedgerID *int64  `json:"ledger_id" validate:"omitempty,gt=0"`
}

type targetRequest struct {
	ResidentID        int64           `json:"resident_id" validate:"required,gt=0"`
	UnitNumber        string          `json:"unit_number" validate:"required,max=32"`
	UnitUsage         float64         `json:"unit_usage" validate:"gte=0"`
	AdditionalCharges []chargeRequest `json:"additional_charges" validate:"omitempty,dive"`
}

func (t targetRequest) target() subledger.BillTarget {
	out := subledger.BillTarget{ResidentID: t.ResidentID, UnitNumber: t.UnitNumber, UnitUsage: t.UnitUsage}
	for _, c := range t.AdditionalCharges {
		out.AdditionalCharges = append(out.AdditionalCharges, subledger.AdditionalCharge{Name: c.Name, Amount: c.Amount, LedgerID: c.LedgerID})
	}
	return out
}

type periodRequest struct {
	PeriodKey string `json:"period_key" validate:"max=16"`
	IssueDate string `json:"issue_date" validate:"omitempty,datetime=2006-01-02"`
}

func (p periodRequest) period() subledger.BillingPeriod {
	out := subledger.BillingPeriod{Key: p.PeriodKey}
	if p.IssueDate != "" {
		out.IssueDate, _ = time.Parse(dateLayout, p.IssueDate)
	}
	return out
}

type generateBillRequest struct {
	BillHeadID int64 `json:"bill_head_id" validate:"required,gt=0"`
	targetRequest
	periodRequest
}

type generateBulkRequest struct {
	BillHeadID int64           `json:"bill_head_id" validate:"required,gt=0"`
	Targets    []targetRequest `json:"targets" validate:"required,min=1,max=500,dive"`
	periodRequest
}

type remarksRequest struct {
	Remarks string `json:"remarks" validate:"max=500"`
}

type entryRequest struct {
	LedgerID    int64               `json:"ledger_id" validate:"required,gt=0"`
	Type        subledger.EntryType `json:"type" validate:"required,oneof=debit credit"`
	Amount      float64             `json:"amount" validate:"gt=0"`
	Description string              `json:"description" validate:"max=255"`
}

type postVoucherRequest struct {
	Date         string         `json:"date" validate:"omitempty,datetime=2006-01-02"`
	BillHeadCode string         `json:"bill_head_code" validate:"max=16"`
	Narration    string         `json:"narration" validate:"max=500"`
	SourceID     *uuid.UUID     `json:"source_id"`
	Entries      []entryRequest `json:"entries" validate:"required,min=2,dive"`
}

func (req postVoucherRequest) input(societyID, actorID int64) subledger.PostVoucherInput {
	in := subledger.PostVoucherInput{
		SocietyID:    societyID,
		BillHeadCode: req.BillHeadCode,
		Narration:    req.Narration,
		ActorID:      actorID,
	}
	if req.Date != "" {
		in.Date, _ = time.Parse(dateLayout, req.Date)
	}
	if req.SourceID != nil {
		in.SourceID = *req.SourceID
	}
	for _, e := range req.Entries {
		in.Entries = append(in.Entries, subledger.VoucherEntry{LedgerID: e.LedgerID, Type: e.Type, Amount: e.Amount, Description: e.Description})
	}
	return in
}

type recordPaymentRequest struct {
	Amount      float64               `json:"amount" validate:"gt=0"`
	Mode        subledger.PaymentMode `json:"payment_mode" validate:"required,oneof=Cash Cheque BankTransfer UPI Card NetBanking"`
	Reference   string                `json:"reference" validate:"max=64"`
	PaymentDate string                `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	Remarks     string                `json:"remarks" validate:"max=500"`
}

type scheduleRequest struct {
	BillHeadID int64           `json:"bill_head_id" validate:"required,gt=0"`
	DayOfMonth int             `json:"day_of_month" validate:"required,min=1,max=31"`
	Targets    []targetRequest `json:"targets" validate:"required,min=1,dive"`
}

func targets(in []targetRequest) []subledger.BillTarget {
	out := make([]subledger.BillTarget, 0, len(in))
	for _, t := range in {
		out = append(out, t.target())
	}
	return out
}

func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", httpx.ErrValidation, field)
	}
	return t, nil
}
