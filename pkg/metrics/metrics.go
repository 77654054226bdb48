// Package metrics exposes tracker and store activity to Prometheus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "igautomate"

// Admission result label values.
const (
	ResultAllowed       = "allowed"
	ResultAPILimit      = "api_limit"
	ResultPlatformLimit = "platform_limit"
	ResultInvalid       = "invalid"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	admissions    *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
	storeWrites   *prometheus.CounterVec
	engagedUsers  *prometheus.GaugeVec
	platformLimit *prometheus.GaugeVec
	pendingWrites prometheus.Gauge
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Admission checks by API type and result.",
		}, []string{"api", "result"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed engagement store operations.",
		}, []string{"op"}),
		storeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Engagement rows written to the store.",
		}, []string{"op"}),
		engagedUsers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engaged_users",
			Help:      "Users engaged within the engagement window, per account.",
		}, []string{"tenant", "account"}),
		platformLimit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "platform_limit",
			Help:      "Current dynamic platform-wide hourly limit, per account.",
		}, []string{"tenant", "account"}),
		pendingWrites: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_writes",
			Help:      "Debounced engagement writes waiting to fire.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.admissions, m.storeErrors, m.storeWrites,
			m.engagedUsers, m.platformLimit, m.pendingWrites,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

func (m *Metrics) Admission(api, result string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(api, result).Inc()
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) StoreWrites(op string, rows int) {
	if m == nil {
		return
	}
	m.storeWrites.WithLabelValues(op).Add(float64(rows))
}

// Account sets the per-account gauges
func (m *Metrics) Account(tenant, account string, engaged, limit int) {
	if m == nil {
		return
	}
	m.engagedUsers.WithLabelValues(tenant, account).Set(float64(engaged))
	m.platformLimit.WithLabelValues(tenant, account).Set(float64(limit))
}

// ForgetAccount drops the gauges of an account that left the index
func (m *Metrics) ForgetAccount(tenant, account string) {
	if m == nil {
		return
	}
	m.engagedUsers.DeleteLabelValues(tenant, account)
	m.platformLimit.DeleteLabelValues(tenant, account)
}

func (m *Metrics) PendingWrites(n int) {
	if m == nil {
		return
	}
	m.pendingWrites.Set(float64(n))
}
