package service

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 集成生命周期指标
type Metrics struct {
	Registry *prometheus.Registry

	WebhookDeliveries *prometheus.CounterVec
	OAuthInitiations  *prometheus.CounterVec
	OAuthCallbacks    *prometheus.CounterVec
	ApiKeyAuth        *prometheus.CounterVec
	DiagnosticRuns    *prometheus.CounterVec
	Connections       *prometheus.GaugeVec
}

// NewMetrics 创建并注册指标
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iconsole",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by trigger type and outcome.",
		}, []string{"trigger_type", "outcome", "test"}),
		OAuthInitiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iconsole",
			Name:      "oauth_initiations_total",
			Help:      "OAuth authorization URL requests by integration and outcome.",
		}, []string{"integration", "outcome"}),
		OAuthCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iconsole",
			Name:      "oauth_callbacks_total",
			Help:      "OAuth callbacks by integration and outcome.",
		}, []string{"integration", "outcome"}),
		ApiKeyAuth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iconsole",
			Name:      "api_key_authentications_total",
			Help:      "Bridge API key authentications by outcome.",
		}, []string{"outcome"}),
		DiagnosticRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iconsole",
			Name:      "diagnostic_runs_total",
			Help:      "Connection test runs by verdict.",
		}, []string{"verdict"}),
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "iconsole",
			Name:      "integration_connections",
			Help:      "Integration connections by status, as of the last health poll.",
		}, []string{"status"}),
	}
	m.Registry.MustRegister(
		m.WebhookDeliveries,
		m.OAuthInitiations,
		m.OAuthCallbacks,
		m.ApiKeyAuth,
		m.DiagnosticRuns,
		m.Connections,
	)
	return m
}

func (m *Metrics) observeDelivery(trigger string, success, test bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.WebhookDeliveries.WithLabelValues(trigger, outcome, strconv.FormatBool(test)).Inc()
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
