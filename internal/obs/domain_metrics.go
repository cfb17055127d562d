package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentOrderTotal counts gateway order creation attempts by kind (buy, upgrade) and result.
	PaymentOrderTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// ReconcileTotal counts reconciliation outcomes by path (procedure, fallback) and result.
	ReconcileTotal *prometheus.CounterVec
	// RealtimeSessions tracks live push sessions on this instance.
	RealtimeSessions prometheus.Gauge
	// RealtimeDeliveriesTotal counts push deliveries by result (sent, dropped).
	RealtimeDeliveriesTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentOrderTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_order_total",
			Help:      "Count of gateway order creation outcomes.",
		}, []string{"kind", "result"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"source", "result"})
		ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Count of order reconciliation outcomes.",
		}, []string{"path", "result"})
		RealtimeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_sessions",
			Help:      "Number of connected realtime sessions.",
		})
		RealtimeDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_deliveries_total",
			Help:      "Count of realtime message deliveries by outcome.",
		}, []string{"result"})

		mustRegisterCollector(reg, PaymentOrderTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentOrderTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentWebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentWebhookTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReconcileTotal = v
			}
		})
		mustRegisterCollector(reg, RealtimeSessions, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				RealtimeSessions = v
			}
		})
		mustRegisterCollector(reg, RealtimeDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RealtimeDeliveriesTotal = v
			}
		})
	})
}

// CountPaymentOrder increments PaymentOrderTotal when registered.
func CountPaymentOrder(kind, result string) {
	if PaymentOrderTotal != nil {
		PaymentOrderTotal.WithLabelValues(kind, result).Inc()
	}
}

// CountPaymentWebhook increments PaymentWebhookTotal when registered.
func CountPaymentWebhook(source, result string) {
	if PaymentWebhookTotal != nil {
		PaymentWebhookTotal.WithLabelValues(source, result).Inc()
	}
}

// CountReconcile increments ReconcileTotal when registered.
func CountReconcile(path, result string) {
	if ReconcileTotal != nil {
		ReconcileTotal.WithLabelValues(path, result).Inc()
	}
}

// AddRealtimeSessions moves the session gauge by delta when registered.
func AddRealtimeSessions(delta float64) {
	if RealtimeSessions != nil {
		RealtimeSessions.Add(delta)
	}
}

// CountRealtimeDelivery increments RealtimeDeliveriesTotal when registered.
func CountRealtimeDelivery(result string) {
	if RealtimeDeliveriesTotal != nil {
		RealtimeDeliveriesTotal.WithLabelValues(result).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
