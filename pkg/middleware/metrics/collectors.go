package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	responseTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "response_time",
			Help:    "http response time.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"uri", "method"},
	)

	totalHttpRequestsFromOrg = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests_from_org", Help: "http requests by invoking org"},
		[]string{"org", "provider"},
	)

	totalHttpRequestsToUri = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests_to_uri", Help: "http requests to uri"},
		[]string{"code", "uri", "method"},
	)

	totalHttpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests", Help: "http requests by code, and method"},
		[]string{"code", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		responseTime,
		totalHttpRequestsFromOrg,
		totalHttpRequestsToUri,
		totalHttpRequests,
	)
}
