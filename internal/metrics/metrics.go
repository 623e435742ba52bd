package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var serviceName = "webgrave"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	AuthRegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_registrations_total",
			Help: "Total number of registration attempts.",
		},
		[]string{"service", "result"},
	)

	AuthLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of login attempts.",
		},
		[]string{"service", "result"},
	)

	OTPVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_otp_verifications_total",
			Help: "Total number of OTP submissions by purpose and result.",
		},
		[]string{"service", "purpose", "result"},
	)

	OTPIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_otp_issued_total",
			Help: "Total number of OTP challenges issued by purpose and result.",
		},
		[]string{"service", "purpose", "result"},
	)

	TokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Total number of session tokens issued.",
		},
		[]string{"service", "flow"},
	)
)

var registerOnce sync.Once

func MustRegister(name string) {
	registerOnce.Do(func() {
		if name != "" {
			serviceName = name
		}
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			AuthRegistrationsTotal,
			AuthLoginsTotal,
			OTPVerificationsTotal,
			OTPIssuedTotal,
			TokensIssuedTotal,
		)
	})
}

func ObserveHTTP(method, path, status string, seconds float64) {
	HTTPRequestsTotal.WithLabelValues(serviceName, method, path, status).Inc()
	HTTPRequestDurationSeconds.WithLabelValues(serviceName, method, path).Observe(seconds)
}

func RecordRegistration(result string) {
	AuthRegistrationsTotal.WithLabelValues(serviceName, result).Inc()
}

func RecordLogin(result string) {
	AuthLoginsTotal.WithLabelValues(serviceName, result).Inc()
}

func RecordOTPVerification(purpose, result string) {
	OTPVerificationsTotal.WithLabelValues(serviceName, purpose, result).Inc()
}

func RecordOTPIssued(purpose, result string) {
	OTPIssuedTotal.WithLabelValues(serviceName, purpose, result).Inc()
}

func RecordTokenIssued(flow string) {
	TokensIssuedTotal.WithLabelValues(serviceName, flow).Inc()
}
