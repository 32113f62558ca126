package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_http_requests_total",
		Help: "HTTP requests by method, path and status.",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auth_http_request_duration_seconds",
		Help:    "HTTP request latency by method and path.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	tokenGrantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_grants_total",
		Help: "Token endpoint outcomes by grant type and result.",
	}, []string{"grant_type", "result"})
)

func observeRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func observeGrant(grantType, result string) {
	if grantType == "" {
		grantType = "unknown"
	}
	tokenGrantsTotal.WithLabelValues(grantType, result).Inc()
}
