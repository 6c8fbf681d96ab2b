package observability

import (
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOperationForRoute(t *testing.T) {
	cases := []struct {
		method, route, want string
	}{
		{http.MethodPost, "/v1/positions/{address}/stake", OpStake},
		{http.MethodPost, "/v1/positions/{address}/withdraw", OpWithdraw},
		{http.MethodPost, "/v1/positions/{address}/harvest", OpHarvest},
		{http.MethodPost, "/v1/positions/{address}/compound", OpCompound},
		{http.MethodPost, "/v1/rewards/fund", OpFund},
		{http.MethodPut, "/v1/rewards/period", OpSetPeriod},
		{http.MethodPut, "/v1/admin/pause", OpPause},
		{http.MethodGet, "/v1/positions/{address}", OpRead},
		{http.MethodGet, "/v1/ledger", OpRead},
		{http.MethodGet, "/metrics", OpService},
		{http.MethodGet, "/healthz", OpService},
		{http.MethodPost, "/v1/positions/0xabc/unknown", OpService},
	}
	for _, tc := range cases {
		if got := OperationForRoute(tc.method, tc.route); got != tc.want {
			t.Fatalf("OperationForRoute(%s %s) = %q, want %q", tc.method, tc.route, got, tc.want)
		}
	}
}

func TestAPIMetricsObserve(t *testing.T) {
	m := API()
	rejected := func() float64 { return testutil.ToFloat64(m.rejections.WithLabelValues(OpFund, "conflict")) }
	accepted := func() float64 { return testutil.ToFloat64(m.calls.WithLabelValues(OpFund, "true")) }
	beforeRejected, beforeAccepted := rejected(), accepted()

	m.Observe(OpFund, http.StatusConflict, 5*time.Millisecond)
	m.Observe(OpFund, http.StatusOK, time.Millisecond)

	if got := rejected(); got != beforeRejected+1 {
		t.Fatalf("expected one conflict rejection, got %v -> %v", beforeRejected, got)
	}
	if got := accepted(); got != beforeAccepted+1 {
		t.Fatalf("expected one accepted fund call, got %v -> %v", beforeAccepted, got)
	}

	before := testutil.ToFloat64(m.rejections.WithLabelValues(OpService, "rate_limited"))
	m.Observe("", http.StatusTooManyRequests, 0)
	if got := testutil.ToFloat64(m.rejections.WithLabelValues(OpService, "rate_limited")); got != before+1 {
		t.Fatalf("blank operation should report as service, got %v", got)
	}
}

func TestRejectionReason(t *testing.T) {
	cases := map[int]string{
		http.StatusOK:                  "",
		http.StatusBadRequest:          "invalid",
		http.StatusUnauthorized:        "unauthenticated",
		http.StatusNotFound:            "client",
		http.StatusServiceUnavailable:  "paused",
		http.StatusInternalServerError: "internal",
	}
	for status, want := range cases {
		if got := RejectionReason(status); got != want {
			t.Fatalf("RejectionReason(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestEventsRecordEvent(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues("unknown"))
	m.RecordEvent("  ")
	if got := testutil.ToFloat64(m.emitted.WithLabelValues("unknown")); got != before+1 {
		t.Fatalf("blank event types should count as unknown, got %v", got)
	}
}

func TestBigToFloat(t *testing.T) {
	if BigToFloat(nil) != 0 {
		t.Fatalf("nil should map to zero")
	}
	if got := BigToFloat(big.NewInt(1_500)); got != 1500 {
		t.Fatalf("expected 1500, got %v", got)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 2000)
	if got := BigToFloat(huge); got != 0 {
		t.Fatalf("out of range values should report zero, got %v", got)
	}
}
