package stakerewards

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// GlobalState captures the ledger-wide accounting state. Accumulators are
// fixed-point values scaled by Precision; timestamps are unix seconds.
type GlobalState struct {
	// TotalStaked is the sum of every position balance.
	TotalStaked *big.Int
	// SumOfEntryTimes is the sum of every position's EntryTimes. Together with
	// TotalStaked it yields the aggregate staking duration at any instant.
	SumOfEntryTimes *big.Int
	// IdealPosition is the cumulative reward per unit stake earned by a staker
	// present since InitTime.
	IdealPosition *big.Int
	// RewardsPerStakingDuration is the cumulative reward released per unit of
	// staking duration.
	RewardsPerStakingDuration *big.Int
	// RewardRate is the current release rate in reward units per second, scaled
	// by Precision. Reporting only.
	RewardRate *big.Int
	// UnallocatedReward is funded reward not yet released, scaled by Precision.
	UnallocatedReward *big.Int

	TotalFunded     *big.Int
	TotalHarvested  *big.Int
	TotalCompounded *big.Int

	InitTime       uint64
	LastUpdateTime uint64
	PeriodDuration uint64
	PeriodFinish   uint64
	Initialized    bool
}

// NewGlobalState returns an uninitialised ledger state with zeroed counters.
func NewGlobalState() *GlobalState {
	g := &GlobalState{}
	g.ensureDefaults()
	return g
}

func (g *GlobalState) ensureDefaults() {
	for _, field := range []**big.Int{
		&g.TotalStaked,
		&g.SumOfEntryTimes,
		&g.IdealPosition,
		&g.RewardsPerStakingDuration,
		&g.RewardRate,
		&g.UnallocatedReward,
		&g.TotalFunded,
		&g.TotalHarvested,
		&g.TotalCompounded,
	} {
		if *field == nil {
			*field = big.NewInt(0)
		}
	}
}

// Clone returns a deep copy of the global state.
func (g *GlobalState) Clone() *GlobalState {
	if g == nil {
		return nil
	}
	return &GlobalState{
		TotalStaked:               cloneBigInt(g.TotalStaked),
		SumOfEntryTimes:           cloneBigInt(g.SumOfEntryTimes),
		IdealPosition:             cloneBigInt(g.IdealPosition),
		RewardsPerStakingDuration: cloneBigInt(g.RewardsPerStakingDuration),
		RewardRate:                cloneBigInt(g.RewardRate),
		UnallocatedReward:         cloneBigInt(g.UnallocatedReward),
		TotalFunded:               cloneBigInt(g.TotalFunded),
		TotalHarvested:            cloneBigInt(g.TotalHarvested),
		TotalCompounded:           cloneBigInt(g.TotalCompounded),
		InitTime:                  g.InitTime,
		LastUpdateTime:            g.LastUpdateTime,
		PeriodDuration:            g.PeriodDuration,
		PeriodFinish:              g.PeriodFinish,
		Initialized:               g.Initialized,
	}
}

// Position is a single staker's balance plus the accumulator snapshot taken at
// its last settlement.
type Position struct {
	Address common.Address
	Balance *big.Int
	// EntryTimes is Σ amount × (entry time − InitTime) over the balance. The
	// position's staking duration at τ is Balance×τ − EntryTimes.
	EntryTimes                     *big.Int
	EntryIdealPosition             *big.Int
	EntryRewardsPerStakingDuration *big.Int
	// SettledReward is realised and claimable but not yet paid out.
	SettledReward *big.Int
	LastSettled   uint64
}

func newPosition(addr common.Address) *Position {
	pos := &Position{Address: addr}
	pos.ensureDefaults()
	return pos
}

func (p *Position) ensureDefaults() {
	for _, field := range []**big.Int{
		&p.Balance,
		&p.EntryTimes,
		&p.EntryIdealPosition,
		&p.EntryRewardsPerStakingDuration,
		&p.SettledReward,
	} {
		if *field == nil {
			*field = big.NewInt(0)
		}
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	return &Position{
		Address:                        p.Address,
		Balance:                        cloneBigInt(p.Balance),
		EntryTimes:                     cloneBigInt(p.EntryTimes),
		EntryIdealPosition:             cloneBigInt(p.EntryIdealPosition),
		EntryRewardsPerStakingDuration: cloneBigInt(p.EntryRewardsPerStakingDuration),
		SettledReward:                  cloneBigInt(p.SettledReward),
		LastSettled:                    p.LastSettled,
	}
}

// IsEmpty reports whether the position holds neither stake nor unpaid reward.
func (p *Position) IsEmpty() bool {
	if p == nil {
		return true
	}
	return sign(p.Balance) == 0 && sign(p.SettledReward) == 0
}

// StakingDuration returns Σ amount × age of the position at unix time now.
func (p *Position) StakingDuration(g *GlobalState, now uint64) *big.Int {
	if p == nil || g == nil || !g.Initialized || now < g.InitTime {
		return big.NewInt(0)
	}
	duration := new(big.Int).Mul(p.Balance, new(big.Int).SetUint64(now-g.InitTime))
	return duration.Sub(duration, p.EntryTimes)
}

// Audit summarises the conservation counters of the ledger.
type Audit struct {
	TotalStaked     *big.Int
	TotalFunded     *big.Int
	TotalHarvested  *big.Int
	TotalCompounded *big.Int
	// Unallocated is the reward not yet released, truncated to whole units.
	Unallocated *big.Int
	// RewardRate is the current release rate in whole units per second.
	RewardRate *big.Int
	PeriodEnd   uint64
}
