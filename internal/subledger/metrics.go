package subledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for billing activity.
type Metrics struct {
	billsGenerated     *prometheus.CounterVec
	vouchersPosted     *prometheus.CounterVec
	sequenceFallbacks  *prometheus.CounterVec
	paymentTransitions *prometheus.CounterVec
}

// NewMetrics registers the billing collectors. A nil registerer uses the
// default Prometheus registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		billsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "societyhub_bills_generated_total",
			Help: "Bills generated partitioned by bill kind.",
		}, []string{"kind"}),
		vouchersPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "societyhub_vouchers_posted_total",
			Help: "Vouchers posted partitioned by voucher type.",
		}, []string{"type"}),
		sequenceFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "societyhub_sequence_fallbacks_total",
			Help: "Document numbers issued through the timestamp fallback after retries were exhausted.",
		}, []string{"kind"}),
		paymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "societyhub_payment_transitions_total",
			Help: "Payment entries reaching each workflow status.",
		}, []string{"status"}),
	}
	registerer.MustRegister(m.billsGenerated, m.vouchersPosted, m.sequenceFallbacks, m.paymentTransitions)
	return m
}

// BillsGenerated counts n new bills of kind.
func (m *Metrics) BillsGenerated(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.billsGenerated.WithLabelValues(kind).Add(float64(n))
}

// VoucherPosted counts one posted voucher.
func (m *Metrics) VoucherPosted(voucherType string) {
	if m == nil {
		return
	}
	m.vouchersPosted.WithLabelValues(voucherType).Inc()
}

// SequenceFallback counts one fallback number.
func (m *Metrics) SequenceFallback(kind string) {
	if m == nil {
		return
	}
	m.sequenceFallbacks.WithLabelValues(kind).Inc()
}

// PaymentTransition counts one payment reaching status.
func (m *Metrics) PaymentTransition(status string) {
	if m == nil {
		return
	}
	m.paymentTransitions.WithLabelValues(status).Inc()
}
