package stakerewards

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/core/events"
	nativecommon "stakeledger/native/common"
)

const moduleName = "stakerewards"

// Operation labels reported to the metrics sink.
const (
	OpStake     = "stake"
	OpWithdraw  = "withdraw"
	OpHarvest   = "harvest"
	OpCompound  = "compound"
	OpFund      = "fund"
	OpSetPeriod = "set_period"
)

// ModuleName returns the identifier used for pause toggles.
func ModuleName() string { return moduleName }

type engineState interface {
	GetGlobal() (*GlobalState, error)
	// GetPosition returns nil without error when the staker has no record.
	GetPosition(addr common.Address) (*Position, error)
	// Commit persists the global state and (when non-nil) the position as a
	// single atomic write.
	Commit(global *GlobalState, position *Position) error
}

// Custody moves assets between user accounts and ledger custody. Each call
// must either complete or leave balances untouched. TransferIn/TransferOut and
// PayReward/DepositReward are inverse pairs.
type Custody interface {
	TransferIn(from common.Address, amount *big.Int) error
	TransferOut(to common.Address, amount *big.Int) error
	PayReward(to common.Address, amount *big.Int) error
	DepositReward(from common.Address, amount *big.Int) error
}

// Restaker is implemented by custody backends that hold principal and reward
// in separate accounts. Compounding moves the reward into principal custody.
type Restaker interface {
	Restake(staker common.Address, amount *big.Int) error
	Unrestake(staker common.Address, amount *big.Int) error
}

// Metrics receives operation outcomes and ledger totals.
type Metrics interface {
	ObserveOperation(op string, err error)
	ObserveLedger(totalStaked, unallocated, funded, harvested, compounded *big.Int)
}

// Engine applies staking operations against the ledger state. Every
// operation advances the accumulators, settles the caller and mutates
// balances under one lock and commits the result in one write.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	state   engineState
	custody Custody
	emitter events.Emitter
	pauses  nativecommon.PauseView
	metrics Metrics
	logger  *slog.Logger
}

// NewEngine constructs an engine with a no-op emitter and the default logger.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg.Normalize(),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody wires the asset transfer collaborator.
func (e *Engine) SetCustody(custody Custody) { e.custody = custody }

// SetPauses configures the pause view consulted before mutations.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetMetrics configures the metrics sink. Nil disables reporting.
func (e *Engine) SetMetrics(m Metrics) { e.metrics = m }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With(slog.String("component", moduleName))
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Initialize pins the ledger inception time and applies the configured period
// duration when the stored state has none. It is safe to call on every start.
func (e *Engine) Initialize(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNilState
	}
	ts, err := unixSeconds(now)
	if err != nil {
		return err
	}
	g, err := e.loadGlobal()
	if err != nil {
		return err
	}
	if err := g.advance(ts); err != nil {
		return err
	}
	var applied bool
	if g.PeriodDuration == 0 && e.cfg.PeriodDurationSeconds > 0 {
		g.PeriodDuration = e.cfg.PeriodDurationSeconds
		applied = true
	}
	if err := e.state.Commit(g, nil); err != nil {
		return err
	}
	if applied {
		e.emit(events.StakeRewardsPeriodUpdated{Duration: g.PeriodDuration, Timestamp: ts})
	}
	e.logger.Info("ledger initialised",
		slog.Uint64("initTime", g.InitTime),
		slog.Uint64("periodDuration", g.PeriodDuration))
	return nil
}

// Stake settles the staker and adds amount to their position. A zero amount
// is a checkpoint that only realises accrued reward.
func (e *Engine) Stake(staker common.Address, amount *big.Int, now time.Time) (*Position, error) {
	pos, err := e.stake(staker, amount, now)
	e.observe(OpStake, err)
	return pos, err
}

func (e *Engine) stake(staker common.Address, amount *big.Int, now time.Time) (*Position, error) {
	amount, err := checkAmount(amount, true)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ts, g, pos, err := e.begin(staker, now)
	if err != nil {
		return nil, err
	}
	if _, err := settle(g, pos, ts); err != nil {
		return nil, err
	}
	if err := deposit(g, pos, amount, ts); err != nil {
		return nil, err
	}
	var revert func() error
	if amount.Sign() > 0 {
		if e.custody == nil {
			return nil, ErrNilCustody
		}
		if err := e.custody.TransferIn(staker, amount); err != nil {
			return nil, fmt.Errorf("stakerewards: transfer in: %w", err)
		}
		revert = func() error { return e.custody.TransferOut(staker, amount) }
	}
	if err := e.commit(g, pos, revert); err != nil {
		return nil, err
	}
	e.emit(events.StakeRewardsStaked{
		Staker:     staker,
		Asset:      e.cfg.StakeAsset,
		Amount:     amount,
		NewBalance: cloneBigInt(pos.Balance),
		Settled:    cloneBigInt(pos.SettledReward),
		Timestamp:  ts,
	})
	e.logger.Debug("staked",
		slog.String("staker", staker.Hex()),
		slog.String("amount", amount.String()),
		slog.String("balance", pos.Balance.String()))
	return pos.Clone(), nil
}

// Withdraw settles the staker and releases amount of principal back to them.
// The remaining balance starts a fresh staking duration.
func (e *Engine) Withdraw(staker common.Address, amount *big.Int, now time.Time) (*Position, error) {
	pos, err := e.withdraw(staker, amount, now)
	e.observe(OpWithdraw, err)
	return pos, err
}

func (e *Engine) withdraw(staker common.Address, amount *big.Int, now time.Time) (*Position, error) {
	amount, err := checkAmount(amount, true)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ts, g, pos, err := e.begin(staker, now)
	if err != nil {
		return nil, err
	}
	if pos.Balance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientBalance, pos.Balance, amount)
	}
	if _, err := settle(g, pos, ts); err != nil {
		return nil, err
	}
	if err := removeStake(g, pos, amount, ts); err != nil {
		return nil, err
	}
	var revert func() error
	if amount.Sign() > 0 {
		if e.custody == nil {
			return nil, ErrNilCustody
		}
		if err := e.custody.TransferOut(staker, amount); err != nil {
			return nil, fmt.Errorf("stakerewards: transfer out: %w", err)
		}
		revert = func() error { return e.custody.TransferIn(staker, amount) }
	}
	if err := e.commit(g, pos, revert); err != nil {
		return nil, err
	}
	e.emit(events.StakeRewardsWithdrawn{
		Staker:     staker,
		Asset:      e.cfg.StakeAsset,
		Amount:     amount,
		NewBalance: cloneBigInt(pos.Balance),
		Settled:    cloneBigInt(pos.SettledReward),
		Timestamp:  ts,
	})
	e.logger.Debug("withdrawn",
		slog.String("staker", staker.Hex()),
		slog.String("amount", amount.String()),
		slog.String("balance", pos.Balance.String()))
	return pos.Clone(), nil
}

// Harvest settles the staker and pays out every realised reward. The staked
// balance keeps its staking duration.
func (e *Engine) Harvest(staker common.Address, now time.Time) (*big.Int, error) {
	paid, err := e.harvest(staker, now)
	e.observe(OpHarvest, err)
	return paid, err
}

func (e *Engine) harvest(staker common.Address, now time.Time) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts, g, pos, err := e.begin(staker, now)
	if err != nil {
		return nil, err
	}
	if _, err := settle(g, pos, ts); err != nil {
		return nil, err
	}
	reward := takeSettled(pos)
	harvested, err := addBalance(g.TotalHarvested, reward)
	if err != nil {
		return nil, err
	}
	g.TotalHarvested = harvested

	var revert func() error
	if reward.Sign() > 0 {
		if e.custody == nil {
			return nil, ErrNilCustody
		}
		if err := e.custody.PayReward(staker, reward); err != nil {
			return nil, fmt.Errorf("stakerewards: pay reward: %w", err)
		}
		revert = func() error { return e.custody.DepositReward(staker, reward) }
	}
	if err := e.commit(g, pos, revert); err != nil {
		return nil, err
	}
	e.emit(events.StakeRewardsHarvested{
		Staker:    staker,
		Asset:     e.cfg.RewardAsset,
		Amount:    cloneBigInt(reward),
		Timestamp: ts,
	})
	e.logger.Debug("harvested", slog.String("staker", staker.Hex()), slog.String("reward", reward.String()))
	return reward, nil
}

// Compound settles the staker and restakes every realised reward. The
// existing balance keeps its staking duration; the compounded tokens start at
// zero.
func (e *Engine) Compound(staker common.Address, now time.Time) (*big.Int, error) {
	amount, err := e.compound(staker, now)
	e.observe(OpCompound, err)
	return amount, err
}

func (e *Engine) compound(staker common.Address, now time.Time) (*big.Int, error) {
	if !e.cfg.CompoundEnabled {
		return nil, ErrCompoundDisabled
	}
	if e.cfg.StakeAsset != e.cfg.RewardAsset {
		return nil, ErrCompoundAssetMismatch
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ts, g, pos, err := e.begin(staker, now)
	if err != nil {
		return nil, err
	}
	if _, err := settle(g, pos, ts); err != nil {
		return nil, err
	}
	reward := takeSettled(pos)
	if err := deposit(g, pos, reward, ts); err != nil {
		return nil, err
	}
	compounded, err := addBalance(g.TotalCompounded, reward)
	if err != nil {
		return nil, err
	}
	g.TotalCompounded = compounded

	var revert func() error
	if restaker, ok := e.custody.(Restaker); ok && reward.Sign() > 0 {
		if err := restaker.Restake(staker, reward); err != nil {
			return nil, fmt.Errorf("stakerewards: restake: %w", err)
		}
		revert = func() error { return restaker.Unrestake(staker, reward) }
	}
	if err := e.commit(g, pos, revert); err != nil {
		return nil, err
	}
	e.emit(events.StakeRewardsCompounded{
		Staker:     staker,
		Amount:     cloneBigInt(reward),
		NewBalance: cloneBigInt(pos.Balance),
		Timestamp:  ts,
	})
	e.logger.Debug("compounded", slog.String("staker", staker.Hex()), slog.String("reward", reward.String()))
	return reward, nil
}

// Fund deposits amount of reward from funder and restarts the distribution
// period. Authorisation of the funder happens before this call.
func (e *Engine) Fund(funder common.Address, amount *big.Int, now time.Time) error {
	err := e.fund(funder, amount, now)
	e.observe(OpFund, err)
	return err
}

func (e *Engine) fund(funder common.Address, amount *big.Int, now time.Time) error {
	amount, err := checkAmount(amount, false)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	ts, err := unixSeconds(now)
	if err != nil {
		return err
	}
	g, err := e.loadGlobal()
	if err != nil {
		return err
	}
	if err := g.fund(amount, ts); err != nil {
		return err
	}
	if e.custody == nil {
		return ErrNilCustody
	}
	if err := e.custody.DepositReward(funder, amount); err != nil {
		return fmt.Errorf("stakerewards: deposit reward: %w", err)
	}
	revert := func() error { return e.custody.PayReward(funder, amount) }
	if err := e.commit(g, nil, revert); err != nil {
		return err
	}
	e.emit(events.StakeRewardsRewardAdded{
		Funder:       funder,
		Asset:        e.cfg.RewardAsset,
		Amount:       amount,
		PeriodFinish: g.PeriodFinish,
		Timestamp:    ts,
	})
	e.logger.Info("reward added",
		slog.String("funder", funder.Hex()),
		slog.String("amount", amount.String()),
		slog.Uint64("periodFinish", g.PeriodFinish))
	return nil
}

// SetPeriodDuration changes the distribution period used by future funding.
func (e *Engine) SetPeriodDuration(duration time.Duration, now time.Time) error {
	err := e.setPeriodDuration(duration, now)
	e.observe(OpSetPeriod, err)
	return err
}

func (e *Engine) setPeriodDuration(duration time.Duration, now time.Time) error {
	if duration < time.Second {
		return ErrInvalidPeriodDuration
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	ts, err := unixSeconds(now)
	if err != nil {
		return err
	}
	g, err := e.loadGlobal()
	if err != nil {
		return err
	}
	seconds := uint64(duration / time.Second)
	previous, err := g.setPeriodDuration(seconds, ts)
	if err != nil {
		return err
	}
	if err := e.commit(g, nil, nil); err != nil {
		return err
	}
	e.emit(events.StakeRewardsPeriodUpdated{Previous: previous, Duration: seconds, Timestamp: ts})
	e.logger.Info("period duration updated", slog.Uint64("previous", previous), slog.Uint64("duration", seconds))
	return nil
}

// Position returns a copy of the stored position for staker. Stakers without a
// record yield an empty position.
func (e *Engine) Position(staker common.Address) (*Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	pos, err := e.state.GetPosition(staker)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return newPosition(staker), nil
	}
	pos = pos.Clone()
	pos.ensureDefaults()
	return pos, nil
}

// Pending returns the reward staker could claim at now: already settled reward
// plus what a settlement at now would realise. Nothing is persisted.
func (e *Engine) Pending(staker common.Address, now time.Time) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts, g, pos, err := e.begin(staker, now)
	if err != nil {
		return nil, err
	}
	if _, err := settle(g, pos, ts); err != nil {
		return nil, err
	}
	return cloneBigInt(pos.SettledReward), nil
}

// Global returns a copy of the stored global state.
func (e *Engine) Global() (*GlobalState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	return e.loadGlobal()
}

// Audit reports the conservation counters of the ledger.
func (e *Engine) Audit() (*Audit, error) {
	g, err := e.Global()
	if err != nil {
		return nil, err
	}
	return auditOf(g), nil
}

func auditOf(g *GlobalState) *Audit {
	return &Audit{
		TotalStaked:     cloneBigInt(g.TotalStaked),
		TotalFunded:     cloneBigInt(g.TotalFunded),
		TotalHarvested:  cloneBigInt(g.TotalHarvested),
		TotalCompounded: cloneBigInt(g.TotalCompounded),
		Unallocated:     unscale(g.UnallocatedReward),
		RewardRate:      unscale(g.RewardRate),
		PeriodEnd:       g.PeriodFinish,
	}
}

func (e *Engine) ready() error {
	if e.state == nil {
		return ErrNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

// begin validates the engine and loads working copies of the global state and
// the staker's position.
func (e *Engine) begin(staker common.Address, now time.Time) (uint64, *GlobalState, *Position, error) {
	if err := e.ready(); err != nil {
		return 0, nil, nil, err
	}
	ts, err := unixSeconds(now)
	if err != nil {
		return 0, nil, nil, err
	}
	g, err := e.loadGlobal()
	if err != nil {
		return 0, nil, nil, err
	}
	pos, err := e.state.GetPosition(staker)
	if err != nil {
		return 0, nil, nil, err
	}
	if pos == nil {
		pos = newPosition(staker)
	} else {
		pos = pos.Clone()
		pos.ensureDefaults()
	}
	return ts, g, pos, nil
}

func (e *Engine) loadGlobal() (*GlobalState, error) {
	g, err := e.state.GetGlobal()
	if err != nil {
		return nil, err
	}
	if g == nil {
		return NewGlobalState(), nil
	}
	g = g.Clone()
	g.ensureDefaults()
	return g, nil
}

// commit persists the working copies. When persistence fails after a custody
// transfer the transfer is reversed.
func (e *Engine) commit(g *GlobalState, pos *Position, revert func() error) error {
	err := e.state.Commit(g, pos)
	if err == nil {
		if e.metrics != nil {
			e.metrics.ObserveLedger(g.TotalStaked, unscale(g.UnallocatedReward), g.TotalFunded, g.TotalHarvested, g.TotalCompounded)
		}
		return nil
	}
	err = fmt.Errorf("stakerewards: commit: %w", err)
	if revert != nil {
		if rerr := revert(); rerr != nil {
			e.logger.Error("custody revert failed", slog.Any("error", rerr))
			return errors.Join(err, fmt.Errorf("stakerewards: revert custody: %w", rerr))
		}
	}
	return err
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) observe(op string, err error) {
	if e.metrics != nil {
		e.metrics.ObserveOperation(op, err)
	}
	if err != nil {
		e.logger.Warn("operation rejected", slog.String("op", op), slog.Any("error", err))
	}
}

func unixSeconds(now time.Time) (uint64, error) {
	secs := now.Unix()
	if secs < 0 {
		return 0, fmt.Errorf("%w: timestamp %d before unix epoch", ErrClockRegression, secs)
	}
	return uint64(secs), nil
}
