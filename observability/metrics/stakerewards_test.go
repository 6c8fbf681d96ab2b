package metrics

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"stakeledger/native/common"
	"stakeledger/native/stakerewards"
)

func TestStakeRewardsOperationOutcomes(t *testing.T) {
	m := StakeRewards()
	if StakeRewards() != m {
		t.Fatalf("expected singleton registry")
	}

	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{common.ErrModulePaused, "paused"},
		{fmt.Errorf("wrapped: %w", stakerewards.ErrInsufficientBalance), "rejected"},
		{errors.New("disk full"), "error"},
	}
	for _, tc := range cases {
		before := testutil.ToFloat64(m.operations.WithLabelValues("withdraw", tc.want))
		m.ObserveOperation("withdraw", tc.err)
		after := testutil.ToFloat64(m.operations.WithLabelValues("withdraw", tc.want))
		if after != before+1 {
			t.Fatalf("outcome %q: expected counter to increase by one, got %v -> %v", tc.want, before, after)
		}
	}
}

func TestStakeRewardsLedgerGauges(t *testing.T) {
	m := StakeRewards()
	m.ObserveLedger(big.NewInt(500), big.NewInt(25), big.NewInt(100), big.NewInt(60), big.NewInt(15))

	if got := testutil.ToFloat64(m.staked); got != 500 {
		t.Fatalf("expected staked 500, got %v", got)
	}
	if got := testutil.ToFloat64(m.reserve); got != 25 {
		t.Fatalf("expected reserve 25, got %v", got)
	}
	if got := testutil.ToFloat64(m.compounded); got != 15 {
		t.Fatalf("expected compounded 15, got %v", got)
	}

	var nilMetrics *StakeRewardsMetrics
	nilMetrics.ObserveLedger(nil, nil, nil, nil, nil)
	nilMetrics.ObserveOperation("stake", nil)
}
