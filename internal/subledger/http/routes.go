package subledgerhttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/societyhub/societyhub/internal/platform/httpx"
	"github.com/societyhub/societyhub/internal/shared"
)

const bulkRateLimit = 10
const bulkRateWindow = time.Minute

// MountRoutes registers the subledger API under /societies/{societyID}.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	bulkLimiter := httprate.Limit(bulkRateLimit, bulkRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "bulk generation rate exceeded")
		}),
	)

	r.Route("/societies/{societyID}", func(r chi.Router) {
		r.Get("/ledgers", h.listLedgers)
		r.Get("/ledgers/{ledgerID}", h.getLedger)
		r.Get("/ledgers/{ledgerID}/replay", h.replayLedger)
		r.Get("/trial-balance", h.trialBalance)
		r.Get("/integrity", h.verifyLedgers)

		r.Get("/bill-heads", h.listBillHeads)
		r.Get("/bill-heads/{billHeadID}", h.getBillHead)

		r.Get("/bills", h.listBills)
		r.Get("/bills/{billID}", h.getBill)
		r.Get("/bills/{billID}/payments", h.listPayments)

		r.Get("/vouchers", h.listVouchers)
		r.Get("/vouchers/{voucherID}", h.getVoucher)
		r.Get("/payments/{paymentID}", h.getPayment)
		r.Get("/schedules", h.listSchedules)

		r.Group(func(r chi.Router) {
			r.Use(requireIdentity)
			r.Post("/ledgers", h.createLedger)
			r.Post("/ledgers/{ledgerID}/freeze", h.ledgerTransition(statusFreeze))
			r.Post("/ledgers/{ledgerID}/activate", h.ledgerTransition(statusActivate))
			r.Post("/ledgers/{ledgerID}/inactivate", h.ledgerTransition(statusInactivate))

			r.Post("/bill-heads", h.createBillHead)
			r.Post("/bill-heads/resolve-ledgers", h.resolveLedgers)
			r.Patch("/bill-heads/{billHeadID}", h.updateBillHead)
			r.Delete("/bill-heads/{billHeadID}", h.deleteBillHead)

			r.Post("/bills", h.generateBill)
			r.With(bulkLimiter).Post("/bills/bulk", h.generateBulk)
			r.Post("/bills/{billID}/cancel", h.cancelBill)
			r.Post("/bills/{billID}/payments", h.recordPayment)

			r.Post("/vouchers", h.postVoucher)
			r.Post("/vouchers/{voucherID}/cancel", h.cancelVoucher)

			r.Post("/payments/{paymentID}/approve", h.reviewPayment(reviewApprove))
			r.Post("/payments/{paymentID}/reject", h.reviewPayment(reviewReject))
			r.Post("/payments/{paymentID}/cancel", h.reviewPayment(reviewCancel))

			r.Post("/schedules", h.createSchedule)
		})
	})
}

func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.IdentityFromContext(r.Context()); !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if id, ok := shared.IdentityFromContext(r.Context()); ok {
		return "actor:" + strconv.FormatInt(id.ActorID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
