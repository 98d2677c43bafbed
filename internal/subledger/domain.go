package subledger

import (
	"time"

	"github.com/google/uuid"
)

// LedgerType fixes a ledger's sign convention for its whole life.
type LedgerType string

const (
	LedgerAsset     LedgerType = "Asset"
	LedgerLiability LedgerType = "Liability"
	LedgerIncome    LedgerType = "Income"
	LedgerExpense   LedgerType = "Expense"
	LedgerEquity    LedgerType = "Equity"
)

// LedgerStatus enumerates ledger lifecycle values. Ledgers are never deleted.
type LedgerStatus string

const (
	LedgerActive   LedgerStatus = "Active"
	LedgerFrozen   LedgerStatus = "Frozen"
	LedgerInactive LedgerStatus = "Inactive"
)

// EntryType is the side of a voucher entry.
type EntryType string

const (
	Debit  EntryType = "debit"
	Credit EntryType = "credit"
)

// BalanceType is the derived side of a ledger balance.
type BalanceType string

const (
	BalanceDebit    BalanceType = "Debit"
	BalanceCredit   BalanceType = "Credit"
	BalanceBalanced BalanceType = "Balanced"
)

// Ledger is one chart-of-accounts row with a running balance.
type Ledger struct {
	ID             int64        `json:"id"`
	SocietyID      int64        `json:"society_id"`
	Code           string       `json:"code"`
	Name           string       `json:"name"`
	Type           LedgerType   `json:"type"`
	OpeningBalance float64      `json:"opening_balance"`
	CurrentBalance float64      `json:"current_balance"`
	BillCategory   string       `json:"bill_category,omitempty"`
	SubCategory    string       `json:"sub_category,omitempty"`
	Status         LedgerStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// CalculationType selects how a bill head computes its base charge.
type CalculationType string

const (
	CalcFixed   CalculationType = "Fixed"
	CalcPerUnit CalculationType = "PerUnit"
	CalcFormula CalculationType = "Formula"
	CalcCustom  CalculationType = "Custom"
)

// Frequency is the billing cadence of a head.
type Frequency string

const (
	FrequencyMonthly    Frequency = "Monthly"
	FrequencyQuarterly  Frequency = "Quarterly"
	FrequencyHalfYearly Frequency = "HalfYearly"
	FrequencyYearly     Frequency = "Yearly"
	FrequencyOneTime    Frequency = "OneTime"
)

// PenaltyChargeType selects the late-fee formula.
type PenaltyChargeType string

const (
	PenaltyFixed      PenaltyChargeType = "Fixed"
	PenaltyPercentage PenaltyChargeType = "Percentage"
)

// CompoundingFrequency selects the multiplier for percentage penalties.
type CompoundingFrequency string

const (
	CompoundMonthly CompoundingFrequency = "Monthly"
	CompoundDaily   CompoundingFrequency = "Daily"
)

// GSTConfig holds tax percentages applied to the base charge.
type GSTConfig struct {
	IsApplicable bool    `json:"is_applicable"`
	CGST         float64 `json:"cgst"`
	SGST         float64 `json:"sgst"`
	IGST         float64 `json:"igst"`
}

// LatePaymentConfig describes overdue penalties. MaxPenalty of zero means uncapped.
type LatePaymentConfig struct {
	IsApplicable         bool                 `json:"is_applicable"`
	GracePeriodDays      int                  `json:"grace_period_days"`
	ChargeType           PenaltyChargeType    `json:"charge_type"`
	ChargeValue          float64              `json:"charge_value"`
	CompoundingFrequency CompoundingFrequency `json:"compounding_frequency"`
	MaxPenalty           float64              `json:"max_penalty,omitempty"`
}

// AccountingConfig links a bill head to its ledgers.
type AccountingConfig struct {
	IncomeLedgerID        int64  `json:"income_ledger_id"`
	ReceivableLedgerID    int64  `json:"receivable_ledger_id"`
	GSTLedgerID           *int64 `json:"gst_ledger_id,omitempty"`
	LateFeeIncomeLedgerID *int64 `json:"late_fee_income_ledger_id,omitempty"`
}

// BillHead is a reusable charge template.
type BillHead struct {
	ID              int64             `json:"id"`
	SocietyID       int64             `json:"society_id"`
	Code            string            `json:"code"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	Category        string            `json:"category"`
	SubCategory     string            `json:"sub_category"`
	Kind            BillKind          `json:"bill_kind"`
	CalculationType CalculationType   `json:"calculation_type"`
	FixedAmount     float64           `json:"fixed_amount,omitempty"`
	PerUnitRate     float64           `json:"per_unit_rate,omitempty"`
	Formula         string            `json:"formula,omitempty"`
	CustomCharge    string            `json:"custom_charge,omitempty"`
	Frequency       Frequency         `json:"frequency"`
	DueDays         int               `json:"due_days"`
	GST             GSTConfig         `json:"gst_config"`
	LatePayment     LatePaymentConfig `json:"late_payment_config"`
	Accounting      AccountingConfig  `json:"accounting_config"`
	IsActive        bool              `json:"is_active"`
	CreatedBy       int64             `json:"created_by"`
	UpdatedBy       int64             `json:"updated_by"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// VoucherType classifies journal vouchers.
type VoucherType string

const (
	VoucherJournal  VoucherType = "Journal"
	VoucherSales    VoucherType = "Sales"
	VoucherReceipt  VoucherType = "Receipt"
	VoucherReversal VoucherType = "Reversal"
)

// ReferenceType names the entity that caused a voucher.
type ReferenceType string

const (
	RefBill    ReferenceType = "Bill"
	RefPayment ReferenceType = "Payment"
	RefVoucher ReferenceType = "Voucher"
	RefManual  ReferenceType = "Manual"
)

// VoucherStatus enumerates voucher lifecycle values.
type VoucherStatus string

const (
	VoucherActive    VoucherStatus = "Active"
	VoucherCancelled VoucherStatus = "Cancelled"
)

// VoucherEntry is one debit or credit line.
type VoucherEntry struct {
	ID          int64     `json:"id,omitempty"`
	VoucherID   int64     `json:"voucher_id,omitempty"`
	LedgerID    int64     `json:"ledger_id"`
	Type        EntryType `json:"type"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description,omitempty"`
}

// Voucher is an append-only double-entry record.
type Voucher struct {
	ID            int64          `json:"id"`
	SocietyID     int64          `json:"society_id"`
	VoucherNumber string         `json:"voucher_number"`
	Type          VoucherType    `json:"voucher_type"`
	Date          time.Time      `json:"date"`
	ReferenceType ReferenceType  `json:"reference_type"`
	ReferenceID   int64          `json:"reference_id"`
	BillHeadID    *int64         `json:"bill_head_id,omitempty"`
	SourceID      uuid.UUID      `json:"source_id"`
	Narration     string         `json:"narration"`
	Status        VoucherStatus  `json:"status"`
	Entries       []VoucherEntry `json:"entries"`
	ReversalOf    *int64         `json:"reversal_of,omitempty"`
	ReversedBy    *int64         `json:"reversed_by,omitempty"`
	CreatedBy     int64          `json:"created_by"`
	CancelledBy   *int64         `json:"cancelled_by,omitempty"`
	CancelledAt   *time.Time     `json:"cancelled_at,omitempty"`
	CancelRemarks string         `json:"cancel_remarks,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// BillStatus enumerates bill lifecycle values.
type BillStatus string

const (
	BillPending       BillStatus = "Pending"
	BillPartiallyPaid BillStatus = "Partially Paid"
	BillPaid          BillStatus = "Paid"
	BillOverdue       BillStatus = "Overdue"
	BillCancelled     BillStatus = "Cancelled"
)

// GSTDetails is the tax breakdown frozen at issue time.
type GSTDetails struct {
	CGST  float64 `json:"cgst"`
	SGST  float64 `json:"sgst"`
	IGST  float64 `json:"igst"`
	Total float64 `json:"total"`
}

// AdditionalCharge is an ad-hoc line on a bill. Without a ledger it credits the income ledger.
type AdditionalCharge struct {
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	LedgerID *int64  `json:"ledger_id,omitempty"`
}

// PaymentRecord is an approved payment applied to a bill.
type PaymentRecord struct {
	PaymentID     int64       `json:"payment_id"`
	Amount        float64     `json:"amount"`
	PenaltyAmount float64     `json:"penalty_amount"`
	Mode          PaymentMode `json:"mode"`
	VoucherID     int64       `json:"voucher_id"`
	PaidAt        time.Time   `json:"paid_at"`
}

// Bill is an issued charge. Kind discriminates the utility, maintenance and
// amenity variants, which share one structure.
type Bill struct {
	ID                         int64              `json:"id"`
	SocietyID                  int64              `json:"society_id"`
	Kind                       BillKind           `json:"kind"`
	BillNumber                 string             `json:"bill_number"`
	BillHeadID                 int64              `json:"bill_head_id"`
	ResidentID                 int64              `json:"resident_id"`
	UnitNumber                 string             `json:"unit_number"`
	PeriodKey                  string             `json:"period_key"`
	UnitUsage                  float64            `json:"unit_usage,omitempty"`
	IssueDate                  time.Time          `json:"issue_date"`
	DueDate                    time.Time          `json:"due_date"`
	BaseAmount                 float64            `json:"base_amount"`
	GST                        GSTDetails         `json:"gst_details"`
	AdditionalCharges          []AdditionalCharge `json:"additional_charges,omitempty"`
	TotalAmount                float64            `json:"total_amount"`
	PaidAmount                 float64            `json:"paid_amount"`
	RemainingAmount            float64            `json:"remaining_amount"`
	PenaltyAmount              float64            `json:"penalty_amount"`
	PenaltyPaid                float64            `json:"penalty_paid"`
	LastPenaltyCalculationDate *time.Time         `json:"last_penalty_calculation_date,omitempty"`
	Status                     BillStatus         `json:"status"`
	ReceivableLedgerID         int64              `json:"receivable_ledger_id"`
	IncomeLedgerID             int64              `json:"income_ledger_id"`
	JournalEntries             []int64            `json:"journal_entries"`
	PaymentHistory             []PaymentRecord    `json:"payment_history"`
	CreatedBy                  int64              `json:"created_by"`
	CancelledBy                *int64             `json:"cancelled_by,omitempty"`
	CancelledAt                *time.Time         `json:"cancelled_at,omitempty"`
	CancelRemarks              string             `json:"cancel_remarks,omitempty"`
	CreatedAt                  time.Time          `json:"created_at"`
	UpdatedAt                  time.Time          `json:"updated_at"`
}

// PaymentMode is how a resident paid.
type PaymentMode string

const (
	ModeCash         PaymentMode = "Cash"
	ModeCheque       PaymentMode = "Cheque"
	ModeBankTransfer PaymentMode = "BankTransfer"
	ModeUPI          PaymentMode = "UPI"
	ModeCard         PaymentMode = "Card"
	ModeNetBanking   PaymentMode = "NetBanking"
)

// PaymentStatus enumerates payment lifecycle values. Every state but Pending is terminal.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentApproved  PaymentStatus = "Approved"
	PaymentRejected  PaymentStatus = "Rejected"
	PaymentCancelled PaymentStatus = "Cancelled"
)

// Actor records who acted on a payment and when.
type Actor struct {
	UserID  int64     `json:"user_id"`
	At      time.Time `json:"at"`
	Remarks string    `json:"remarks,omitempty"`
}

// Payment is one attempt to settle a bill.
type Payment struct {
	ID               int64         `json:"id"`
	SocietyID        int64         `json:"society_id"`
	BillID           int64         `json:"bill_id"`
	BillKind         BillKind      `json:"bill_kind"`
	Amount           float64       `json:"amount"`
	PenaltyComponent float64       `json:"penalty_component"`
	Mode             PaymentMode   `json:"payment_mode"`
	Reference        string        `json:"reference,omitempty"`
	PaymentDate      time.Time     `json:"payment_date"`
	Status           PaymentStatus `json:"status"`
	Maker            Actor         `json:"maker"`
	Checker          *Actor        `json:"checker,omitempty"`
	VoucherID        *int64        `json:"voucher_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// BillSchedule marks a bill head for automatic generation on a day of month.
type BillSchedule struct {
	ID         int64 `json:"id"`
	SocietyID  int64 `json:"society_id"`
	BillHeadID int64 `json:"bill_head_id"`
	DayOfMonth int   `json:"day_of_month"`
	IsActive   bool  `json:"is_active"`
}

// GenerationRun records a completed scheduled generation for a period.
type GenerationRun struct {
	ID         int64     `json:"id"`
	SocietyID  int64     `json:"society_id"`
	BillHeadID int64     `json:"bill_head_id"`
	PeriodKey  string    `json:"period_key"`
	Created    int       `json:"created"`
	Failed     int       `json:"failed"`
	RanAt      time.Time `json:"ran_at"`
}
