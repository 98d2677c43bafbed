package subledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/societyhub/societyhub/internal/shared"
	"github.com/societyhub/societyhub/internal/subledger/formula"
)

const (
	maxGSTRate      = 28
	maxSplitGSTRate = 14
	codeStemLength  = 6
)

// CreateBillHeadInput describes a new charge template. When both income and
// receivable ledgers are zero the ledgers are resolved from the category pair.
type CreateBillHeadInput struct {
	SocietyID       int64
	Code            string
	Name            string
	Description     string
	Category        string
	SubCategory     string
	Kind            BillKind
	CalculationType CalculationType
	FixedAmount     float64
	PerUnitRate     float64
	Formula         string
	CustomCharge    string
	Frequency       Frequency
	DueDays         int
	GST             GSTConfig
	LatePayment     LatePaymentConfig
	Accounting      AccountingConfig
	ActorID         int64
}

// UpdateBillHeadInput patches a bill head. Nil fields are left unchanged.
type UpdateBillHeadInput struct {
	ID              int64
	Code            *string
	Name            *string
	Description     *string
	Category        *string
	SubCategory     *string
	CalculationType *CalculationType
	FixedAmount     *float64
	PerUnitRate     *float64
	Formula         *string
	CustomCharge    *string
	Frequency       *Frequency
	DueDays         *int
	GST             *GSTConfig
	LatePayment     *LatePaymentConfig
	IsActive        *bool
	ActorID         int64
}

// ResolveLedgersInput names the category pair to provision ledgers for.
type ResolveLedgersInput struct {
	SocietyID     int64
	Category      string
	SubCategory   string
	GSTApplicable bool
	LatePayment   bool
}

// CreateBillHead validates and stores a bill head.
func (s *Service) CreateBillHead(ctx context.Context, in CreateBillHeadInput) (BillHead, error) {
	if err := requireActor(in.ActorID); err != nil {
		return BillHead{}, err
	}
	head := BillHead{
		SocietyID:       in.SocietyID,
		Code:            normaliseCode(in.Code),
		Name:            strings.TrimSpace(in.Name),
		Description:     in.Description,
		Category:        strings.TrimSpace(in.Category),
		SubCategory:     strings.TrimSpace(in.SubCategory),
		Kind:            in.Kind,
		CalculationType: in.CalculationType,
		FixedAmount:     in.FixedAmount,
		PerUnitRate:     in.PerUnitRate,
		Formula:         strings.TrimSpace(in.Formula),
		CustomCharge:    in.CustomCharge,
		Frequency:       in.Frequency,
		DueDays:         in.DueDays,
		GST:             in.GST,
		LatePayment:     in.LatePayment,
		Accounting:      in.Accounting,
		IsActive:        true,
		CreatedBy:       in.ActorID,
		UpdatedBy:       in.ActorID,
	}
	if head.Kind == "" {
		head.Kind = KindMaintenance
	}
	if head.Frequency == "" {
		head.Frequency = FrequencyMonthly
	}
	if err := s.validateBillHead(head); err != nil {
		return BillHead{}, err
	}
	var created BillHead
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if head.Accounting.IncomeLedgerID == 0 && head.Accounting.ReceivableLedgerID == 0 {
			resolved, err := resolveLedgers(ctx, tx, ResolveLedgersInput{
				SocietyID:     head.SocietyID,
				Category:      head.Category,
				SubCategory:   head.SubCategory,
				GSTApplicable: head.GST.IsApplicable,
				LatePayment:   head.LatePayment.IsApplicable,
			})
			if err != nil {
				return err
			}
			head.Accounting = mergeAccounting(head.Accounting, resolved)
		}
		if err := checkAccounting(ctx, tx, head); err != nil {
			return err
		}
		inserted, err := tx.InsertBillHead(ctx, head)
		if err != nil {
			if errors.Is(err, ErrDuplicate) {
				return fmt.Errorf("%w: bill head code %s already exists", ErrDuplicate, head.Code)
			}
			return err
		}
		created = inserted
		return nil
	})
	if err != nil {
		return BillHead{}, err
	}
	s.bumpBalances(ctx)
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "billhead.create",
		Entity:   "bill_head",
		EntityID: idString(created.ID),
		Meta:     map[string]any{"code": created.Code, "calculation_type": string(created.CalculationType)},
	})
	return created, nil
}

// ResolveLedgers provisions the income, receivable and optional GST and late
// fee ledgers for a category pair. Repeated calls return the same ledgers.
func (s *Service) ResolveLedgers(ctx context.Context, in ResolveLedgersInput) (AccountingConfig, error) {
	var out AccountingConfig
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = resolveLedgers(ctx, tx, in)
		return err
	})
	if err == nil {
		s.bumpBalances(ctx)
	}
	return out, err
}

// UpdateBillHead applies a patch. A category change re-resolves and swaps
// the linked ledgers; vouchers already posted keep their ledgers. Turning on
// GST or late fees provisions the missing ledger and keeps the rest.
func (s *Service) UpdateBillHead(ctx context.Context, in UpdateBillHeadInput) (BillHead, error) {
	if err := requireActor(in.ActorID); err != nil {
		return BillHead{}, err
	}
	var updated BillHead
	var swapped bool
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		head, err := tx.GetBillHeadForUpdate(ctx, in.ID)
		if err != nil {
			return err
		}
		prevCategory, prevSub := head.Category, head.SubCategory
		if in.Code != nil {
			code := normaliseCode(*in.Code)
			if code != head.Code {
				used, err := tx.CountVouchersByHead(ctx, head.ID)
				if err != nil {
					return err
				}
				if used > 0 {
					return invalid("code", "cannot change code of a bill head referenced by %d vouchers", used)
				}
				head.Code = code
			}
		}
		applyBillHeadPatch(&head, in)
		head.UpdatedBy = in.ActorID
		if err := s.validateBillHead(head); err != nil {
			return err
		}
		recategorised := head.Category != prevCategory || head.SubCategory != prevSub
		missingGST := head.GST.IsApplicable && head.Accounting.GSTLedgerID == nil
		missingLateFee := head.LatePayment.IsApplicable && head.Accounting.LateFeeIncomeLedgerID == nil
		if recategorised || missingGST || missingLateFee {
			resolved, err := provisionLedgers(ctx, tx, ResolveLedgersInput{
				SocietyID:     head.SocietyID,
				Category:      head.Category,
				SubCategory:   head.SubCategory,
				GSTApplicable: head.GST.IsApplicable,
				LatePayment:   head.LatePayment.IsApplicable,
			}, recategorised)
			if err != nil {
				return err
			}
			if recategorised {
				head.Accounting = resolved
			} else {
				head.Accounting = fillAccounting(head.Accounting, resolved)
			}
			swapped = true
		}
		if err := checkAccounting(ctx, tx, head); err != nil {
			return err
		}
		if err := tx.UpdateBillHead(ctx, head); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return fmt.Errorf("%w: bill head code %s already exists", ErrDuplicate, head.Code)
			}
			return err
		}
		updated = head
		return nil
	})
	if err != nil {
		return BillHead{}, err
	}
	if swapped {
		s.bumpBalances(ctx)
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "billhead.update",
		Entity:   "bill_head",
		EntityID: idString(updated.ID),
		Meta:     map[string]any{"ledgers_swapped": swapped},
	})
	return updated, nil
}

// DeleteBillHead removes a bill head that no bill references.
func (s *Service) DeleteBillHead(ctx context.Context, id, actorID int64) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetBillHeadForUpdate(ctx, id); err != nil {
			return err
		}
		count, err := tx.CountBillsByHead(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: bill head referenced by %d bills", ErrInUse, count)
		}
		return tx.DeleteBillHead(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "billhead.delete",
		Entity:   "bill_head",
		EntityID: idString(id),
	})
	return nil
}

// GetBillHead loads a bill head.
func (s *Service) GetBillHead(ctx context.Context, id int64) (BillHead, error) {
	var head BillHead
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		head, err = tx.GetBillHead(ctx, id)
		return err
	})
	return head, err
}

// ListBillHeads returns a society's bill heads.
func (s *Service) ListBillHeads(ctx context.Context, societyID int64) ([]BillHead, error) {
	var out []BillHead
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListBillHeads(ctx, societyID)
		return err
	})
	return out, err
}

func (s *Service) validateBillHead(h BillHead) error {
	switch {
	case h.SocietyID <= 0:
		return invalid("society_id", "required")
	case h.Code == "":
		return invalid("code", "required")
	case strings.ContainsAny(h.Code, "/ \t"):
		return invalid("code", "must not contain slashes or spaces")
	case h.Name == "":
		return invalid("name", "required")
	case h.Category == "":
		return invalid("category", "required")
	case h.DueDays < 0:
		return invalid("due_days", "must not be negative")
	}
	if _, err := lookupBillKind(h.Kind); err != nil {
		return err
	}
	switch h.Frequency {
	case FrequencyMonthly, FrequencyQuarterly, FrequencyHalfYearly, FrequencyYearly, FrequencyOneTime:
	default:
		return invalid("frequency", "unknown frequency %q", h.Frequency)
	}
	switch h.CalculationType {
	case CalcFixed:
		if h.FixedAmount <= 0 {
			return invalid("fixed_amount", "must be greater than zero")
		}
	case CalcPerUnit:
		if h.PerUnitRate <= 0 {
			return invalid("per_unit_rate", "must be greater than zero")
		}
	case CalcFormula:
		if h.Formula == "" {
			return invalid("formula", "required")
		}
		if _, err := formula.Parse(h.Formula); err != nil {
			return invalid("formula", "%v", err)
		}
	case CalcCustom:
		if _, ok := s.charge(h.CustomCharge); !ok {
			return invalid("custom_charge", "no charge function registered as %q", h.CustomCharge)
		}
	default:
		return invalid("calculation_type", "unknown calculation type %q", h.CalculationType)
	}
	if err := validateGST(h.GST); err != nil {
		return err
	}
	return validateLatePayment(h.LatePayment)
}

func validateGST(g GSTConfig) error {
	rates := []struct {
		field string
		value float64
		max   float64
	}{
		{"gst_config.cgst", g.CGST, maxSplitGSTRate},
		{"gst_config.sgst", g.SGST, maxSplitGSTRate},
		{"gst_config.igst", g.IGST, maxGSTRate},
	}
	for _, r := range rates {
		if r.value < 0 || r.value > r.max {
			return invalid(r.field, "must be between 0 and %v", r.max)
		}
	}
	return nil
}

func validateLatePayment(c LatePaymentConfig) error {
	if !c.IsApplicable {
		return nil
	}
	switch {
	case c.GracePeriodDays < 0:
		return invalid("late_payment_config.grace_period_days", "must not be negative")
	case c.ChargeValue < 0:
		return invalid("late_payment_config.charge_value", "must not be negative")
	case c.MaxPenalty < 0:
		return invalid("late_payment_config.max_penalty", "must not be negative")
	}
	switch c.ChargeType {
	case PenaltyFixed, PenaltyPercentage:
	default:
		return invalid("late_payment_config.charge_type", "unknown charge type %q", c.ChargeType)
	}
	switch c.CompoundingFrequency {
	case CompoundMonthly, CompoundDaily:
	default:
		return invalid("late_payment_config.compounding_frequency", "unknown compounding frequency %q", c.CompoundingFrequency)
	}
	return nil
}

func applyBillHeadPatch(h *BillHead, in UpdateBillHeadInput) {
	if in.Name != nil {
		h.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		h.Description = *in.Description
	}
	if in.Category != nil {
		h.Category = strings.TrimSpace(*in.Category)
	}
	if in.SubCategory != nil {
		h.SubCategory = strings.TrimSpace(*in.SubCategory)
	}
	if in.CalculationType != nil {
		h.CalculationType = *in.CalculationType
	}
	if in.FixedAmount != nil {
		h.FixedAmount = *in.FixedAmount
	}
	if in.PerUnitRate != nil {
		h.PerUnitRate = *in.PerUnitRate
	}
	if in.Formula != nil {
		h.Formula = strings.TrimSpace(*in.Formula)
	}
	if in.CustomCharge != nil {
		h.CustomCharge = *in.CustomCharge
	}
	if in.Frequency != nil {
		h.Frequency = *in.Frequency
	}
	if in.DueDays != nil {
		h.DueDays = *in.DueDays
	}
	if in.GST != nil {
		h.GST = *in.GST
	}
	if in.LatePayment != nil {
		h.LatePayment = *in.LatePayment
	}
	if in.IsActive != nil {
		h.IsActive = *in.IsActive
	}
}

// checkAccounting verifies that configured ledgers exist and have the right type.
func checkAccounting(ctx context.Context, tx TxRepository, h BillHead) error {
	refs := []struct {
		field string
		id    *int64
		want  LedgerType
	}{
		{"accounting_config.income_ledger_id", &h.Accounting.IncomeLedgerID, LedgerIncome},
		{"accounting_config.receivable_ledger_id", &h.Accounting.ReceivableLedgerID, LedgerAsset},
		{"accounting_config.gst_ledger_id", h.Accounting.GSTLedgerID, LedgerLiability},
		{"accounting_config.late_fee_income_ledger_id", h.Accounting.LateFeeIncomeLedgerID, LedgerIncome},
	}
	for i, ref := range refs {
		if ref.id == nil || *ref.id == 0 {
			if i < 2 {
				return invalid(ref.field, "required")
			}
			continue
		}
		l, err := tx.GetLedger(ctx, *ref.id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return invalid(ref.field, "ledger %d not found", *ref.id)
			}
			return err
		}
		if l.SocietyID != h.SocietyID {
			return invalid(ref.field, "ledger %d belongs to another society", l.ID)
		}
		if l.Type != ref.want {
			return invalid(ref.field, "ledger %s is %s, want %s", l.Code, l.Type, ref.want)
		}
	}
	return nil
}

func mergeAccounting(current, resolved AccountingConfig) AccountingConfig {
	out := resolved
	if current.GSTLedgerID != nil {
		out.GSTLedgerID = current.GSTLedgerID
	}
	if current.LateFeeIncomeLedgerID != nil {
		out.LateFeeIncomeLedgerID = current.LateFeeIncomeLedgerID
	}
	return out
}

// fillAccounting keeps every configured ledger and takes only the missing
// optional ones from resolved.
func fillAccounting(current, resolved AccountingConfig) AccountingConfig {
	out := current
	if out.GSTLedgerID == nil {
		out.GSTLedgerID = resolved.GSTLedgerID
	}
	if out.LateFeeIncomeLedgerID == nil {
		out.LateFeeIncomeLedgerID = resolved.LateFeeIncomeLedgerID
	}
	return out
}

func resolveLedgers(ctx context.Context, tx TxRepository, in ResolveLedgersInput) (AccountingConfig, error) {
	return provisionLedgers(ctx, tx, in, true)
}

// provisionLedgers ensures the ledgers for a category pair. Without core only
// the GST and late fee ledgers are touched.
func provisionLedgers(ctx context.Context, tx TxRepository, in ResolveLedgersInput, core bool) (AccountingConfig, error) {
	if in.SocietyID <= 0 {
		return AccountingConfig{}, invalid("society_id", "required")
	}
	stem := ledgerCodeStem(in.Category, in.SubCategory)
	if stem == "" {
		return AccountingConfig{}, invalid("category", "must contain letters or digits")
	}
	label := strings.TrimSpace(in.Category + " " + in.SubCategory)
	ensure := func(suffix, name string, t LedgerType) (int64, error) {
		l, err := tx.EnsureLedger(ctx, Ledger{
			SocietyID:    in.SocietyID,
			Code:         stem + suffix,
			Name:         label + " " + name,
			Type:         t,
			BillCategory: in.Category,
			SubCategory:  in.SubCategory,
			Status:       LedgerActive,
		})
		if err != nil {
			return 0, err
		}
		if l.Type != t {
			return 0, fmt.Errorf("%w: ledger %s exists as %s, want %s", ErrMissingLedgerConfig, l.Code, l.Type, t)
		}
		return l.ID, nil
	}
	var out AccountingConfig
	if core {
		var err error
		if out.IncomeLedgerID, err = ensure("INC", "Income", LedgerIncome); err != nil {
			return AccountingConfig{}, err
		}
		if out.ReceivableLedgerID, err = ensure("REC", "Receivable", LedgerAsset); err != nil {
			return AccountingConfig{}, err
		}
	}
	if in.GSTApplicable {
		id, err := ensure("GST", "GST Payable", LedgerLiability)
		if err != nil {
			return AccountingConfig{}, err
		}
		out.GSTLedgerID = &id
	}
	if in.LatePayment {
		id, err := ensure("LATE", "Late Fee Income", LedgerIncome)
		if err != nil {
			return AccountingConfig{}, err
		}
		out.LateFeeIncomeLedgerID = &id
	}
	return out, nil
}

// ledgerCodeStem builds the deterministic code prefix for a category pair.
func ledgerCodeStem(category, subCategory string) string {
	return codePart(category) + codePart(subCategory)
}

func codePart(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			if b.Len() == codeStemLength {
				break
			}
		}
	}
	return b.String()
}

func normaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
