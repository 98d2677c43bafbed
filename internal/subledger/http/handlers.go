package subledgerhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/societyhub/societyhub/internal/platform/httpx"
	"github.com/societyhub/societyhub/internal/shared"
	"github.com/societyhub/societyhub/internal/subledger"
)

const defaultListLimit = 200

// Service is the subledger contract the handlers depend on.
type Service interface {
	CreateLedger(ctx context.Context, in subledger.CreateLedgerInput) (subledger.Ledger, error)
	GetLedger(ctx context.Context, id int64) (subledger.Ledger, error)
	ListLedgers(ctx context.Context, societyID int64) ([]subledger.Ledger, error)
	FreezeLedger(ctx context.Context, id, actorID int64) (subledger.Ledger, error)
	ActivateLedger(ctx context.Context, id, actorID int64) (subledger.Ledger, error)
	InactivateLedger(ctx context.Context, id, actorID int64) (subledger.Ledger, error)
	ReplayLedger(ctx context.Context, ledgerID int64) (subledger.LedgerReplay, error)
	VerifyLedgers(ctx context.Context, societyID int64) (subledger.IntegrityReport, error)
	TrialBalance(ctx context.Context, societyID int64) (subledger.TrialBalance, error)

	CreateBillHead(ctx context.Context, in subledger.CreateBillHeadInput) (subledger.BillHead, error)
	UpdateBillHead(ctx context.Context, in subledger.UpdateBillHeadInput) (subledger.BillHead, error)
	DeleteBillHead(ctx context.Context, id, actorID int64) error
	GetBillHead(ctx context.Context, id int64) (subledger.BillHead, error)
	ListBillHeads(ctx context.Context, societyID int64) ([]subledger.BillHead, error)
	ResolveLedgers(ctx context.Context, in subledger.ResolveLedgersInput) (subledger.AccountingConfig, error)

	GenerateBill(ctx context.Context, in subledger.GenerateBillInput) (subledger.Bill, error)
	GenerateBulk(ctx context.Context, in subledger.GenerateBulkInput) (subledger.BulkResult, error)
	CancelBill(ctx context.Context, in subledger.CancelBillInput) (subledger.Bill, error)
	GetBill(ctx context.Context, id int64) (subledger.Bill, error)
	ListBills(ctx context.Context, filter subledger.BillFilter) ([]subledger.Bill, error)

	PostVoucher(ctx context.Context, in subledger.PostVoucherInput) (subledger.Voucher, error)
	CancelVoucher(ctx context.Context, in subledger.CancelVoucherInput) (subledger.Voucher, error)
	GetVoucher(ctx context.Context, id int64) (subledger.Voucher, error)
	ListVouchers(ctx context.Context, refType subledger.ReferenceType, refID int64) ([]subledger.Voucher, error)

	RecordPayment(ctx context.Context, in subledger.RecordPaymentInput) (subledger.Payment, error)
	ApprovePayment(ctx context.Context, in subledger.ReviewPaymentInput) (subledger.Payment, error)
	RejectPayment(ctx context.Context, in subledger.ReviewPaymentInput) (subledger.Payment, error)
	CancelPayment(ctx context.Context, in subledger.ReviewPaymentInput) (subledger.Payment, error)
	GetPayment(ctx context.Context, id int64) (subledger.Payment, error)
	ListPayments(ctx context.Context, billID int64) ([]subledger.Payment, error)

	CreateSchedule(ctx context.Context, in subledger.CreateScheduleInput) (subledger.BillSchedule, error)
	ListSchedules(ctx context.Context, societyID int64) ([]subledger.BillSchedule, error)
}

// Handler serves the subledger JSON API.
type Handler struct {
	logger    *slog.Logger
	service   Service
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

var domainMappings = []httpx.Mapping{
	{Err: subledger.ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: subledger.ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: subledger.ErrDuplicate, Status: http.StatusConflict, Title: "Duplicate"},
	{Err: subledger.ErrInvalidStateTransition, Status: http.StatusConflict, Title: "Invalid State Transition"},
	{Err: subledger.ErrInUse, Status: http.StatusConflict, Title: "In Use"},
	{Err: subledger.ErrSequenceCollision, Status: http.StatusConflict, Title: "Sequence Collision"},
	{Err: subledger.ErrUnbalancedVoucher, Status: http.StatusUnprocessableEntity, Title: "Unbalanced Voucher"},
	{Err: subledger.ErrMissingLedgerConfig, Status: http.StatusUnprocessableEntity, Title: "Missing Ledger Configuration"},
	{Err: subledger.ErrSelfApproval, Status: http.StatusForbidden, Title: "Self Approval"},
	{Err: subledger.ErrTransactionAborted, Status: http.StatusServiceUnavailable, Title: "Transaction Aborted"},
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, _ := httpx.Classify(err, domainMappings...)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	httpx.RespondError(w, err, domainMappings...)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fieldErr := range verrs {
			ns := fieldErr.Namespace()
			if _, rest, ok := strings.Cut(ns, "."); ok {
				ns = rest
			}
			fields[ns] = fieldErr.Tag()
		}
		httpx.FieldProblem(w, fields)
		return false
	}
	return true
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", httpx.ErrValidation, name)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: invalid %s", httpx.ErrValidation, name)
	}
	return id, nil
}

func actorID(r *http.Request) int64 {
	id, _ := shared.IdentityFromContext(r.Context())
	return id.ActorID
}

// scope resolves the society and entity ids from the path.
func scope(r *http.Request, entityParam string) (int64, int64, error) {
	societyID, err := pathID(r, "societyID")
	if err != nil {
		return 0, 0, err
	}
	if entityParam == "" {
		return societyID, 0, nil
	}
	id, err := pathID(r, entityParam)
	return societyID, id, err
}

// owned hides entities of other societies behind the entity's not-found error.
func owned(societyID, entitySociety int64, notFound error) error {
	if societyID != entitySociety {
		return notFound
	}
	return nil
}

// Ledgers

func (h *Handler) createLedger(w http.ResponseWriter, r *http.Request) {
	societyID, _, err := scope(r, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createLedgerRequest
	if !h.decode(w, r, &req) {
		return
	}
	ledger, err := h.service.CreateLedger(r.Context(), subledger.CreateLedgerInput{
		SocietyID:      societyID,
		Code:           req.Code,
		Name:           req.Name,
		Type:           req.Type,
		OpeningBalance: req.OpeningBalance,
		BillCategory:   req.BillCategory,
		SubCategory:    req.SubCategory,
		ActorID:        actorID(r),
	})
	if err != nil {
		h.fail(w, r, "create ledger", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ledger)
}

func (h *Handler) listLedgers(w http.ResponseWriter, r *http.Request) {
	societyID, _, err := scope(r, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ledgers, err := h.service.ListLedgers(r.Context(), societyID)
	if err != nil {
		h.fail(w, r, "list ledgers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ledgers)
}

func (h *Handler) loadLedger(r *http.Request) (subledger.Ledger, error) {
	societyID, id, err := scope(r, "ledgerID")
	if err != nil {
		return subledger.Ledger{}, err
	}
	ledger, err := h.service.GetLedger(r.Context(), id)
	if err != nil {
		return subledger.Ledger{}, err
	}
	return ledger, owned(societyID, ledger.SocietyID, subledger.ErrLedgerNotFound)
}

func (h *Handler) getLedger(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.loadLedger(r)
	if err != nil {
		h.fail(w, r, "get ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ledger)
}

type ledgerStatusAction int

const (
	statusFreeze ledgerStatusAction = iota
	statusActivate
	statusInactivate
)

func (h *Handler) ledgerTransition(action ledgerStatusAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ledger, err := h.loadLedger(r)
		if err != nil {
			h.fail(w, r, "ledger status", err)
			return
		}
		var updated subledger.Ledger
		switch action {
		case statusFreeze:
			updated, err = h.service.FreezeLedger(r.Context(), ledger.ID, actorID(r))
		case statusActivate:
			updated, err = h.service.ActivateLedger(r.Context(), ledger.ID, actorID(r))
		default:
			updated, err = h.service.InactivateLedger(r.Context(), ledger.ID, actorID(r))
		}
		if err != nil {
			h.fail(w, r, "ledger status", err)
			return
		}
		httpx.JSON(w, http.StatusOK, updated)
	}
}

func (h *Handler) replayLedger(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.loadLedger(r)
	if err != nil {
		h.fail(w, r, "replay ledger", err)
		return
	}
	replay, err := h.service.ReplayLedger(r.Context(), ledger.ID)
	if err != nil {
		h.fail(w, r, "replay ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, replay)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	societyID, _, err := scope(r, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tb, err := h.service.TrialBalance(r.Context(), societyID)
	if err != nil {
		h.fail(w, r, "trial balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) verifyLedgers(w http.ResponseWriter, r *http.Request) {
	societyID, _, err := scope(r, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.VerifyLedgers(r.Context(), societyID)
	if err != nil {
		h.fail(w, r, "verify ledgers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

// Bill heads

func (h *Handler) createBillHead(w http.ResponseWriter, r *http.Request) {
	societyID, _, err := scope(r, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req billHeadRequest
	if !h.decode(w, r, &req) {
		return
	}
	head, err := h.service.CreateBillHead(r.Context(), req.input(societyID, actorID(r)))
	if err != nil {
		h.fail(w, r, "create bill head", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, head)
}

func (h *Handler) resolveLedgers(w http.ResponseWriter, r *http.Request) {
	societyID, _, err := scope(r, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req resolveLedgersRequest
	if !h.decode(w, r, &req) {
		return
	}
	cfg, err := h.service.ResolveLedgers(r.Context(), subledger.ResolveLedgersInput{
		SocietyID:     societyID,
		Category:      req.Category,
		SubCategory:   req.SubCategory,
		GSTApplicable: req.GSTApplicable,
		LatePayment:   req.LatePayment,
	})
	if err != nil {
		h.fail(w, r, "resolve ledgers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, cfg)
}

func (h *Handler) listBillHeads(w http.ResponseWriter, r *http.Request) {
	societyID, _, err := scope(r, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	heads, err := h.service.ListBillHeads(r.Context(), societyID)
	if err != nil {
		h.fail(w, r, "list bill heads", err)
		return
	}
	httpx.JSON(w, http.StatusOK, heads)
}

func (h *Handler) loadBillHead(r *http.Request) (subledger.BillHead, error) {
	societyID, id, err := scope(r, "billHeadID")
	if err != nil {
		return subledger.BillHead{}, err
	}
	head, err := h.service.GetBillHead(r.Context(), id)
	if err != nil {
		return subledger.BillHead{}, err
	}
	return head, owned(societyID, head.SocietyID, subledger.ErrBillHeadNotFound)
}

func (h *Handler) getBillHead(w http.ResponseWriter, r *http.Request) {
	head, err := h.loadBillHead(r)
	if err != nil {
		h.fail(w, r, "get bill head", err)
		return
	}
	httpx.JSON(w, http.StatusOK, head)
}

func (h *Handler) updateBillHead(w http.ResponseWriter, r *http.Request) {
	head, err := h.loadBillHead(r)
	if err != nil {
		h.fail(w, r, "update bill head", err)
		return
	}
	var req updateBillHeadRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.service.UpdateBillHead(r.Context(), subledger.UpdateBillHeadInput{
		ID:              head.ID,
		Code:            req.Code,
		Name:            req.Name,
		Description:     req.Description,
		Category:        req.Category,
		SubCategory:     req.SubCategory,
		CalculationType: req.CalculationType,
		FixedAmount:     req.FixedAmount,
		PerUnitRate:     req.PerUnitRate,
		Formula:         req.Formula,
		CustomCharge:    req.CustomCharge,
		Frequency:       req.Frequency,
		DueDays:         req.DueDays,
		GST:             req.GST,
		LatePayment:     req.LatePayment,
		IsActive:        req.IsActive,
		ActorID:         actorID(r),
	})
	if err != nil {
		h.fail(w, r, "update bill head", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteBillHead(w http.ResponseWriter, r *http.Request) {
	head, err := h.loadBillHead(r)
	if err != nil {
		h.fail(w, r, "delete bill head", err)
		return
	}
	if err := h.service.DeleteBillHead(r.Context(), head.ID, actorID(r)); err != nil {
		h.fail(w, r, "delete bill head", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Bills

func (h *Handler) headInSociety(r *http.Request, societyID, headID int64) error {
	head, err := h.service.GetBillHead(r.Context(), headID)
	if err != nil {
		return err
	}
	return owned(societyID, head.SocietyID, subledger.ErrBillHeadNotFound)
}

func (h *Handler) generateBill(w http.ResponseWriter, r *http.Request) {
	societyID, _, err := scope(r, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req generateBillRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.headInSociety(r, societyID, req.BillHeadID); err != nil {
		h.fail(w, r, "generate bill", err)
		return
	}
	bill, err := h.service.GenerateBill(r.Context(), subledger.GenerateBillInput{
		BillHeadID: req.BillHeadID,
		Target:     req.target(),
		Period:     req.period(),
		ActorID:    actorID(r),
	})
	if err != nil {
		h.fail(w, r, "generate bill", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bill)
}

func (h *Handler) generateBulk(w http.ResponseWriter, r *http.Request) {
	societyID, _, err := scope(r, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req generateBulkRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.headInSociety(r, societyID, req.BillHeadID); err != nil {
		h.fail(w, r, "generate bulk", err)
		return
	}
	result, err := h.service.GenerateBulk(r.Context(), subledger.GenerateBulkInput{
		BillHeadID: req.BillHeadID,
		Targets:    targets(req.Targets),
		Period:     req.period(),
		ActorID:    actorID(r),
	})
	if err != nil {
		h.fail(w, r, "generate bulk", err)
		return
	}
	status := http.StatusCreated
	if len(result.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) listBills(w http.ResponseWriter, r *http.Request) {
	societyID, _, err := scope(r, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	headID, err := queryID(r, "bill_head_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	residentID, err := queryID(r, "resident_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	bills, err := h.service.ListBills(r.Context(), subledger.BillFilter{
		SocietyID:  societyID,
		BillHeadID: headID,
		ResidentID: residentID,
		Status:     subledger.BillStatus(q.Get("status")),
		PeriodKey:  q.Get("period"),
		Limit:      defaultListLimit,
	})
	if err != nil {
		h.fail(w, r, "list bills", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bills)
}

func (h *Handler) loadBill(r *http.Request) (subledger.Bill, error) {
	societyID, id, err := scope(r, "billID")
	if err != nil {
		return subledger.Bill{}, err
	}
	bill, err := h.service.GetBill(r.Context(), id)
	if err != nil {
		return subledger.Bill{}, err
	}
	return bill, owned(societyID, bill.SocietyID, subledger.ErrBillNotFound)
}

func (h *Handler) getBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.loadBill(r)
	if err != nil {
		h.fail(w, r, "get bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) cancelBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.loadBill(r)
	if err != nil {
		h.fail(w, r, "cancel bill", err)
		return
	}
	var req remarksRequest
	if !h.decode(w, r, &req) {
		return
	}
	cancelled, err := h.service.CancelBill(r.Context(), subledger.CancelBillInput{BillID: bill.ID, ActorID: actorID(r), Remarks: req.Remarks})
	if err != nil {
		h.fail(w, r, "cancel bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, cancelled)
}

// Vouchers

func (h *Handler) postVoucher(w http.ResponseWriter, r *http.Request) {
	societyID, _, err := scope(r, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req postVoucherRequest
	if !h.decode(w, r, &req) {
		return
	}
	voucher, err := h.service.PostVoucher(r.Context(), req.input(societyID, actorID(r)))
	if err != nil {
		h.fail(w, r, "post voucher", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, voucher)
}

func (h *Handler) loadVoucher(r *http.Request) (subledger.Voucher, error) {
	societyID, id, err := scope(r, "voucherID")
	if err != nil {
		return subledger.Voucher{}, err
	}
	voucher, err := h.service.GetVoucher(r.Context(), id)
	if err != nil {
		return subledger.Voucher{}, err
	}
	return voucher, owned(societyID, voucher.SocietyID, subledger.ErrVoucherNotFound)
}

func (h *Handler) getVoucher(w http.ResponseWriter, r *http.Request) {
	voucher, err := h.loadVoucher(r)
	if err != nil {
		h.fail(w, r, "get voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, voucher)
}

func (h *Handler) listVouchers(w http.ResponseWriter, r *http.Request) {
	societyID, _, err := scope(r, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	refType := subledger.ReferenceType(r.URL.Query().Get("reference_type"))
	refID, err := queryID(r, "reference_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if refType == "" || refID == 0 {
		httpx.RespondError(w, fmt.Errorf("%w: reference_type and reference_id are required", httpx.ErrValidation))
		return
	}
	vouchers, err := h.service.ListVouchers(r.Context(), refType, refID)
	if err != nil {
		h.fail(w, r, "list vouchers", err)
		return
	}
	out := make([]subledger.Voucher, 0, len(vouchers))
	for _, v := range vouchers {
		if v.SocietyID == societyID {
			out = append(out, v)
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) cancelVoucher(w http.ResponseWriter, r *http.Request) {
	voucher, err := h.loadVoucher(r)
	if err != nil {
		h.fail(w, r, "cancel voucher", err)
		return
	}
	var req remarksRequest
	if !h.decode(w, r, &req) {
		return
	}
	mirror, err := h.service.CancelVoucher(r.Context(), subledger.CancelVoucherInput{VoucherID: voucher.ID, ActorID: actorID(r), Remarks: req.Remarks})
	if err != nil {
		h.fail(w, r, "cancel voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, mirror)
}

// Payments

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	bill, err := h.loadBill(r)
	if err != nil {
		h.fail(w, r, "record payment", err)
		return
	}
	var req recordPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	paidOn, err := parseDate("payment_date", req.PaymentDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := h.service.RecordPayment(r.Context(), subledger.RecordPaymentInput{
		BillID:      bill.ID,
		Amount:      req.Amount,
		Mode:        req.Mode,
		Reference:   req.Reference,
		PaymentDate: paidOn,
		MakerID:     actorID(r),
		Remarks:     req.Remarks,
	})
	if err != nil {
		h.fail(w, r, "record payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	bill, err := h.loadBill(r)
	if err != nil {
		h.fail(w, r, "list payments", err)
		return
	}
	payments, err := h.service.ListPayments(r.Context(), bill.ID)
	if err != nil {
		h.fail(w, r, "list payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, payments)
}

func (h *Handler) loadPayment(r *http.Request) (subledger.Payment, error) {
	societyID, id, err := scope(r, "paymentID")
	if err != nil {
		return subledger.Payment{}, err
	}
	payment, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		return subledger.Payment{}, err
	}
	return payment, owned(societyID, payment.SocietyID, subledger.ErrPaymentNotFound)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.loadPayment(r)
	if err != nil {
		h.fail(w, r, "get payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

type reviewAction int

const (
	reviewApprove reviewAction = iota
	reviewReject
	reviewCancel
)

func (h *Handler) reviewPayment(action reviewAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payment, err := h.loadPayment(r)
		if err != nil {
			h.fail(w, r, "review payment", err)
			return
		}
		var req remarksRequest
		if !h.decode(w, r, &req) {
			return
		}
		in := subledger.ReviewPaymentInput{PaymentID: payment.ID, ActorID: actorID(r), Remarks: req.Remarks}
		var out subledger.Payment
		switch action {
		case reviewApprove:
			out, err = h.service.ApprovePayment(r.Context(), in)
		case reviewReject:
			out, err = h.service.RejectPayment(r.Context(), in)
		default:
			out, err = h.service.CancelPayment(r.Context(), in)
		}
		if err != nil {
			h.fail(w, r, "review payment", err)
			return
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

// Schedules

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	societyID, _, err := scope(r, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req scheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	sch, err := h.service.CreateSchedule(r.Context(), subledger.CreateScheduleInput{
		SocietyID:  societyID,
		BillHeadID: req.BillHeadID,
		DayOfMonth: req.DayOfMonth,
		Targets:    targets(req.Targets),
		ActorID:    actorID(r),
	})
	if err != nil {
		h.fail(w, r, "create schedule", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sch)
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	societyID, _, err := scope(r, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	schedules, err := h.service.ListSchedules(r.Context(), societyID)
	if err != nil {
		h.fail(w, r, "list schedules", err)
		return
	}
	httpx.JSON(w, http.StatusOK, schedules)
}
