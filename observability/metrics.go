package observability

import (
	"math"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ledger operations reported on API metrics. Read-only routes share OpRead and
// everything outside /v1 reports OpService.
const (
	OpStake     = "stake"
	OpWithdraw  = "withdraw"
	OpHarvest   = "harvest"
	OpCompound  = "compound"
	OpFund      = "fund"
	OpSetPeriod = "set_period"
	OpPause     = "pause"
	OpRead      = "read"
	OpService   = "service"
)

// OperationForRoute maps a request method and chi route pattern onto the
// ledger operation it performs.
func OperationForRoute(method, route string) string {
	if !strings.HasPrefix(route, "/v1/") {
		return OpService
	}
	if method == http.MethodGet {
		return OpRead
	}
	switch {
	case strings.HasPrefix(route, "/v1/positions/"):
		switch op := route[strings.LastIndexByte(route, '/')+1:]; op {
		case OpStake, OpWithdraw, OpHarvest, OpCompound:
			return op
		}
	case route == "/v1/rewards/fund":
		return OpFund
	case route == "/v1/rewards/period":
		return OpSetPeriod
	case route == "/v1/admin/pause":
		return OpPause
	}
	return OpService
}

// RejectionReason classifies a non-success HTTP status. Successful statuses
// return an empty reason.
func RejectionReason(status int) string {
	switch {
	case status < http.StatusBadRequest:
		return ""
	case status == http.StatusBadRequest:
		return "invalid"
	case status == http.StatusUnauthorized:
		return "unauthenticated"
	case status == http.StatusForbidden:
		return "forbidden"
	case status == http.StatusConflict:
		return "conflict"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status == http.StatusServiceUnavailable:
		return "paused"
	case status >= http.StatusInternalServerError:
		return "internal"
	default:
		return "client"
	}
}

// APIMetrics counts ledger API calls by operation.
type APIMetrics struct {
	calls      *prometheus.CounterVec
	rejections *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

var (
	apiOnce     sync.Once
	apiRegistry *APIMetrics
)

// API returns the process-wide ledger API metrics, registering them on first
// use.
func API() *APIMetrics {
	apiOnce.Do(func() {
		apiRegistry = &APIMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "api",
				Name:      "calls_total",
				Help:      "Ledger API calls by operation and whether the ledger accepted them.",
			}, []string{"op", "accepted"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "api",
				Name:      "rejections_total",
				Help:      "Ledger API calls refused, by operation and reason.",
			}, []string{"op", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakeledger",
				Subsystem: "api",
				Name:      "call_seconds",
				Help:      "Time spent serving ledger API calls.",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, 1},
			}, []string{"op"}),
		}
		prometheus.MustRegister(apiRegistry.calls, apiRegistry.rejections, apiRegistry.latency)
	})
	return apiRegistry
}

// Observe records one served call with the status written to the client.
func (m *APIMetrics) Observe(op string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = OpService
	}
	reason := RejectionReason(status)
	accepted := "true"
	if reason != "" {
		accepted = "false"
		m.rejections.WithLabelValues(op, reason).Inc()
	}
	m.calls.WithLabelValues(op, accepted).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// BigToFloat converts a token quantity into a gauge value. Values beyond
// float64 range report zero.
func BigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) {
		return 0
	}
	return f
}
