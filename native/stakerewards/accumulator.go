package stakerewards

import (
	"fmt"
	"math/big"
)

// tau returns the seconds elapsed between ledger inception and now.
func (g *GlobalState) tau(now uint64) uint64 {
	if now < g.InitTime {
		return 0
	}
	return now - g.InitTime
}

// stakingDuration returns Σ balance × age over all positions at now.
func (g *GlobalState) stakingDuration(now uint64) *big.Int {
	duration := weighted(g.TotalStaked, g.tau(now))
	return duration.Sub(duration, g.SumOfEntryTimes)
}

// advance folds the reward released since LastUpdateTime into the
// accumulators. The first call pins InitTime. Calling it twice with the same
// timestamp is a no-op.
func (g *GlobalState) advance(now uint64) error {
	g.ensureDefaults()
	if !g.Initialized {
		g.Initialized = true
		g.InitTime = now
		g.LastUpdateTime = now
		return nil
	}
	if now < g.LastUpdateTime {
		return fmt.Errorf("%w: now=%d last=%d", ErrClockRegression, now, g.LastUpdateTime)
	}
	if now == g.LastUpdateTime {
		return nil
	}

	released := g.release(g.LastUpdateTime, now)
	if released.Sign() > 0 {
		duration := g.stakingDuration(now)
		if duration.Sign() <= 0 {
			return fmt.Errorf("%w: staking duration %s with %s staked", ErrSettlementUnderflow, duration, g.TotalStaked)
		}
		perDuration := new(big.Int).Quo(released, duration)
		g.RewardsPerStakingDuration.Add(g.RewardsPerStakingDuration, perDuration)
		// ΔI is derived from the truncated Δρ so Σ settlements never exceed
		// the released amount.
		g.IdealPosition.Add(g.IdealPosition, weighted(perDuration, g.tau(now)))
	}
	g.LastUpdateTime = now
	g.refreshRate(now)
	return nil
}

// release withdraws the portion of the unallocated reserve due over
// (last, now]. The reserve drains linearly towards PeriodFinish. While nothing
// is staked the period is pushed back instead, so reward funded into an empty
// pool reaches whoever stakes next.
func (g *GlobalState) release(last, now uint64) *big.Int {
	if g.UnallocatedReward.Sign() == 0 {
		return big.NewInt(0)
	}
	if g.TotalStaked.Sign() == 0 {
		if g.PeriodFinish > last {
			g.PeriodFinish += now - last
		} else {
			g.PeriodFinish = now
		}
		return big.NewInt(0)
	}
	if g.PeriodFinish <= last {
		released := new(big.Int).Set(g.UnallocatedReward)
		g.UnallocatedReward.SetInt64(0)
		return released
	}
	end := now
	if end > g.PeriodFinish {
		end = g.PeriodFinish
	}
	released := new(big.Int).Mul(g.UnallocatedReward, new(big.Int).SetUint64(end-last))
	released.Quo(released, new(big.Int).SetUint64(g.PeriodFinish-last))
	g.UnallocatedReward.Sub(g.UnallocatedReward, released)
	return released
}

func (g *GlobalState) refreshRate(now uint64) {
	if g.UnallocatedReward.Sign() == 0 || g.PeriodFinish <= now {
		g.RewardRate = big.NewInt(0)
		return
	}
	g.RewardRate = new(big.Int).Quo(g.UnallocatedReward, new(big.Int).SetUint64(g.PeriodFinish-now))
}

// fund advances the accumulators to now, then folds amount into the reserve
// and restarts the distribution period. Leftover reserve from a running
// period is spread over the new one.
func (g *GlobalState) fund(amount *big.Int, now uint64) error {
	amount, err := checkAmount(amount, false)
	if err != nil {
		return err
	}
	if g.PeriodDuration == 0 {
		return ErrPeriodNotConfigured
	}
	if err := g.advance(now); err != nil {
		return err
	}
	funded, err := addBalance(g.TotalFunded, amount)
	if err != nil {
		return err
	}
	g.TotalFunded = funded
	g.UnallocatedReward.Add(g.UnallocatedReward, scale(amount))
	g.PeriodFinish = now + g.PeriodDuration
	g.refreshRate(now)
	return nil
}

// setPeriodDuration changes the length of future distribution periods. It is
// rejected while a funded period is still releasing reward.
func (g *GlobalState) setPeriodDuration(duration, now uint64) (uint64, error) {
	if duration == 0 {
		return 0, ErrInvalidPeriodDuration
	}
	if err := g.advance(now); err != nil {
		return 0, err
	}
	if g.UnallocatedReward.Sign() > 0 && g.PeriodFinish > now {
		return 0, fmt.Errorf("%w: finishes at %d", ErrPeriodActive, g.PeriodFinish)
	}
	previous := g.PeriodDuration
	g.PeriodDuration = duration
	return previous, nil
}
