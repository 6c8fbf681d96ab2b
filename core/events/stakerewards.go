package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/core/types"
)

const (
	// TypeStakeRewardsStaked is emitted when a staker adds to (or checkpoints) a position.
	TypeStakeRewardsStaked = "stakerewards.staked"
	// TypeStakeRewardsWithdrawn is emitted when staked principal leaves the ledger.
	TypeStakeRewardsWithdrawn = "stakerewards.withdrawn"
	// TypeStakeRewardsRewardAdded is emitted when a funder deposits new rewards.
	TypeStakeRewardsRewardAdded = "stakerewards.rewardAdded"
	// TypeStakeRewardsHarvested is emitted when settled rewards are paid out.
	TypeStakeRewardsHarvested = "stakerewards.harvested"
	// TypeStakeRewardsCompounded is emitted when settled rewards are restaked.
	TypeStakeRewardsCompounded = "stakerewards.compounded"
	// TypeStakeRewardsPeriodUpdated is emitted when the distribution period changes.
	TypeStakeRewardsPeriodUpdated = "stakerewards.periodUpdated"
)

// StakeRewardsStaked captures a stake operation, including zero-amount checkpoints.
type StakeRewardsStaked struct {
	Staker     common.Address
	Asset      string
	Amount     *big.Int
	NewBalance *big.Int
	Settled    *big.Int
	Timestamp  uint64
}

// EventType satisfies the Event interface.
func (StakeRewardsStaked) EventType() string { return TypeStakeRewardsStaked }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardsStaked) Event() *types.Event {
	attrs := map[string]string{
		"staker":     formatAddress(e.Staker),
		"amount":     formatAmount(e.Amount),
		"newBalance": formatAmount(e.NewBalance),
		"settled":    formatAmount(e.Settled),
		"timestamp":  formatUnix(e.Timestamp),
	}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	return &types.Event{Type: TypeStakeRewardsStaked, Attributes: attrs}
}

// StakeRewardsWithdrawn captures principal released back to a staker.
type StakeRewardsWithdrawn struct {
	Staker     common.Address
	Asset      string
	Amount     *big.Int
	NewBalance *big.Int
	Settled    *big.Int
	Timestamp  uint64
}

// EventType satisfies the Event interface.
func (StakeRewardsWithdrawn) EventType() string { return TypeStakeRewardsWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardsWithdrawn) Event() *types.Event {
	attrs := map[string]string{
		"staker":     formatAddress(e.Staker),
		"amount":     formatAmount(e.Amount),
		"newBalance": formatAmount(e.NewBalance),
		"settled":    formatAmount(e.Settled),
		"timestamp":  formatUnix(e.Timestamp),
	}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	return &types.Event{Type: TypeStakeRewardsWithdrawn, Attributes: attrs}
}

// StakeRewardsRewardAdded captures a funding deposit and the resulting schedule.
type StakeRewardsRewardAdded struct {
	Funder       common.Address
	Asset        string
	Amount       *big.Int
	PeriodFinish uint64
	Timestamp    uint64
}

// EventType satisfies the Event interface.
func (StakeRewardsRewardAdded) EventType() string { return TypeStakeRewardsRewardAdded }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardsRewardAdded) Event() *types.Event {
	attrs := map[string]string{
		"amount":       formatAmount(e.Amount),
		"periodFinish": formatUnix(e.PeriodFinish),
		"timestamp":    formatUnix(e.Timestamp),
	}
	if e.Funder != (common.Address{}) {
		attrs["funder"] = formatAddress(e.Funder)
	}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	return &types.Event{Type: TypeStakeRewardsRewardAdded, Attributes: attrs}
}

// StakeRewardsHarvested captures a reward payout.
type StakeRewardsHarvested struct {
	Staker    common.Address
	Asset     string
	Amount    *big.Int
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (StakeRewardsHarvested) EventType() string { return TypeStakeRewardsHarvested }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardsHarvested) Event() *types.Event {
	attrs := map[string]string{
		"staker":    formatAddress(e.Staker),
		"amount":    formatAmount(e.Amount),
		"timestamp": formatUnix(e.Timestamp),
	}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	return &types.Event{Type: TypeStakeRewardsHarvested, Attributes: attrs}
}

// StakeRewardsCompounded captures settled rewards folded back into principal.
type StakeRewardsCompounded struct {
	Staker     common.Address
	Amount     *big.Int
	NewBalance *big.Int
	Timestamp  uint64
}

// EventType satisfies the Event interface.
func (StakeRewardsCompounded) EventType() string { return TypeStakeRewardsCompounded }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardsCompounded) Event() *types.Event {
	return &types.Event{Type: TypeStakeRewardsCompounded, Attributes: map[string]string{
		"staker":     formatAddress(e.Staker),
		"amount":     formatAmount(e.Amount),
		"newBalance": formatAmount(e.NewBalance),
		"timestamp":  formatUnix(e.Timestamp),
	}}
}

// StakeRewardsPeriodUpdated captures a distribution period reconfiguration.
type StakeRewardsPeriodUpdated struct {
	Previous  uint64
	Duration  uint64
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (StakeRewardsPeriodUpdated) EventType() string { return TypeStakeRewardsPeriodUpdated }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardsPeriodUpdated) Event() *types.Event {
	return &types.Event{Type: TypeStakeRewardsPeriodUpdated, Attributes: map[string]string{
		"previous":  formatUnix(e.Previous),
		"duration":  formatUnix(e.Duration),
		"timestamp": formatUnix(e.Timestamp),
	}}
}
