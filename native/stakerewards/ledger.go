package stakerewards

import (
	"fmt"
	"math/big"
)

// earned returns the reward pos accrued since its last snapshot:
//
//	(Balance×ΔIdealPosition − EntryTimes×ΔRewardsPerStakingDuration) / Precision
//
// Each interval contributes Δρ×(Balance×τ − EntryTimes), i.e. Δρ times the
// position's own staking duration, which is never negative because every entry
// precedes the intervals being settled.
func (g *GlobalState) earned(pos *Position) (*big.Int, error) {
	idealDelta := new(big.Int).Sub(g.IdealPosition, pos.EntryIdealPosition)
	rateDelta := new(big.Int).Sub(g.RewardsPerStakingDuration, pos.EntryRewardsPerStakingDuration)
	if idealDelta.Sign() < 0 || rateDelta.Sign() < 0 {
		return nil, fmt.Errorf("%w: snapshot ahead of accumulators for %s", ErrSettlementUnderflow, pos.Address.Hex())
	}
	gross := new(big.Int).Mul(pos.Balance, idealDelta)
	gross.Sub(gross, new(big.Int).Mul(pos.EntryTimes, rateDelta))
	if gross.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative accrual for %s", ErrSettlementUnderflow, pos.Address.Hex())
	}
	return gross.Quo(gross, Precision), nil
}

// settle advances g to now and realises the position's newly earned reward.
func settle(g *GlobalState, pos *Position, now uint64) (*big.Int, error) {
	if err := g.advance(now); err != nil {
		return nil, err
	}
	pos.ensureDefaults()
	earned, err := g.earned(pos)
	if err != nil {
		return nil, err
	}
	pos.SettledReward = new(big.Int).Add(pos.SettledReward, earned)
	pos.EntryIdealPosition = new(big.Int).Set(g.IdealPosition)
	pos.EntryRewardsPerStakingDuration = new(big.Int).Set(g.RewardsPerStakingDuration)
	pos.LastSettled = now
	return earned, nil
}

// deposit adds amount to a settled position. The new tokens start with zero
// staking duration.
func deposit(g *GlobalState, pos *Position, amount *big.Int, now uint64) error {
	if sign(amount) == 0 {
		return nil
	}
	total, err := addBalance(g.TotalStaked, amount)
	if err != nil {
		return err
	}
	balance, err := addBalance(pos.Balance, amount)
	if err != nil {
		return err
	}
	weight := weighted(amount, g.tau(now))
	g.TotalStaked = total
	g.SumOfEntryTimes = new(big.Int).Add(g.SumOfEntryTimes, weight)
	pos.Balance = balance
	pos.EntryTimes = new(big.Int).Add(pos.EntryTimes, weight)
	return nil
}

// removeStake takes amount out of a settled position. A zero amount leaves
// the staking duration untouched.
func removeStake(g *GlobalState, pos *Position, amount *big.Int, now uint64) error {
	if pos.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientBalance, pos.Balance, amount)
	}
	balance, err := subBalance(pos.Balance, amount)
	if err != nil {
		return err
	}
	total, err := subBalance(g.TotalStaked, amount)
	if err != nil {
		return err
	}
	pos.Balance = balance
	g.TotalStaked = total
	if amount.Sign() > 0 {
		restartDuration(g, pos, now)
	}
	return nil
}

// restartDuration resets the staking duration of the remaining balance to
// zero, as if it had all been staked at now.
func restartDuration(g *GlobalState, pos *Position, now uint64) {
	fresh := weighted(pos.Balance, g.tau(now))
	sum := new(big.Int).Sub(g.SumOfEntryTimes, pos.EntryTimes)
	g.SumOfEntryTimes = sum.Add(sum, fresh)
	pos.EntryTimes = fresh
}

// takeSettled zeroes and returns the position's realised reward.
func takeSettled(pos *Position) *big.Int {
	reward := cloneBigInt(pos.SettledReward)
	pos.SettledReward = big.NewInt(0)
	return reward
}
