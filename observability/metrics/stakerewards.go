package metrics

import (
	"errors"
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"stakeledger/native/common"
	"stakeledger/native/stakerewards"
	"stakeledger/observability"
)

// StakeRewardsMetrics records ledger operation outcomes and conservation
// totals.
type StakeRewardsMetrics struct {
	operations *prometheus.CounterVec
	staked     prometheus.Gauge
	reserve    prometheus.Gauge
	funded     prometheus.Gauge
	harvested  prometheus.Gauge
	compounded prometheus.Gauge
}

var (
	stakeRewardsOnce     sync.Once
	stakeRewardsRegistry *StakeRewardsMetrics
)

func StakeRewards() *StakeRewardsMetrics {
	stakeRewardsOnce.Do(func() {
		stakeRewardsRegistry = &StakeRewardsMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakerewards_operations_total",
				Help: "Count of ledger operations by kind and outcome.",
			}, []string{"op", "outcome"}),
			staked: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stakerewards_total_staked",
				Help: "Principal currently staked in the ledger.",
			}),
			reserve: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stakerewards_unallocated_reward",
				Help: "Funded reward not yet released to stakers.",
			}),
			funded: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stakerewards_funded_total",
				Help: "Cumulative reward deposited by funders.",
			}),
			harvested: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stakerewards_harvested_total",
				Help: "Cumulative reward paid out to stakers.",
			}),
			compounded: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stakerewards_compounded_total",
				Help: "Cumulative reward restaked as principal.",
			}),
		}
		prometheus.MustRegister(
			stakeRewardsRegistry.operations,
			stakeRewardsRegistry.staked,
			stakeRewardsRegistry.reserve,
			stakeRewardsRegistry.funded,
			stakeRewardsRegistry.harvested,
			stakeRewardsRegistry.compounded,
		)
	})
	return stakeRewardsRegistry
}

// ObserveOperation counts an operation under a coarse outcome label.
func (m *StakeRewardsMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.operations.WithLabelValues(op, outcome(err)).Inc()
}

// ObserveLedger publishes the ledger totals after a commit.
func (m *StakeRewardsMetrics) ObserveLedger(totalStaked, unallocated, funded, harvested, compounded *big.Int) {
	if m == nil {
		return
	}
	m.staked.Set(observability.BigToFloat(totalStaked))
	m.reserve.Set(observability.BigToFloat(unallocated))
	m.funded.Set(observability.BigToFloat(funded))
	m.harvested.Set(observability.BigToFloat(harvested))
	m.compounded.Set(observability.BigToFloat(compounded))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrModulePaused):
		return "paused"
	case errors.Is(err, stakerewards.ErrInvalidAmount),
		errors.Is(err, stakerewards.ErrInsufficientBalance),
		errors.Is(err, stakerewards.ErrCompoundDisabled),
		errors.Is(err, stakerewards.ErrCompoundAssetMismatch),
		errors.Is(err, stakerewards.ErrPeriodActive),
		errors.Is(err, stakerewards.ErrPeriodNotConfigured),
		errors.Is(err, stakerewards.ErrInvalidPeriodDuration):
		return "rejected"
	default:
		return "error"
	}
}
