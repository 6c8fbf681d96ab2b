package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"stakeledger/native/stakerewards"
	"stakeledger/storage"
)

const (
	stakeRewardsGlobalKey        = "stakerewards/global"
	stakeRewardsPositionIndexKey = "stakerewards/positions/index"
	stakeRewardsPositionPrefix   = "stakerewards/position/"
)

// StakeRewardsStore persists the staking rewards ledger in a key/value
// database. Global state and a position are always written in one batch.
type StakeRewardsStore struct {
	mu sync.Mutex
	db storage.Database
}

// NewStakeRewardsStore binds the store to db.
func NewStakeRewardsStore(db storage.Database) *StakeRewardsStore {
	return &StakeRewardsStore{db: db}
}

type storedStakeRewardsGlobal struct {
	TotalStaked               *big.Int
	SumOfEntryTimes           *big.Int
	IdealPosition             *big.Int
	RewardsPerStakingDuration *big.Int
	RewardRate                *big.Int
	UnallocatedReward         *big.Int
	TotalFunded               *big.Int
	TotalHarvested            *big.Int
	TotalCompounded           *big.Int
	InitTime                  uint64
	LastUpdateTime            uint64
	PeriodDuration            uint64
	PeriodFinish              uint64
	Initialized               bool
}

func newStoredStakeRewardsGlobal(g *stakerewards.GlobalState) *storedStakeRewardsGlobal {
	g = g.Clone()
	return &storedStakeRewardsGlobal{
		TotalStaked:               g.TotalStaked,
		SumOfEntryTimes:           g.SumOfEntryTimes,
		IdealPosition:             g.IdealPosition,
		RewardsPerStakingDuration: g.RewardsPerStakingDuration,
		RewardRate:                g.RewardRate,
		UnallocatedReward:         g.UnallocatedReward,
		TotalFunded:               g.TotalFunded,
		TotalHarvested:            g.TotalHarvested,
		TotalCompounded:           g.TotalCompounded,
		InitTime:                  g.InitTime,
		LastUpdateTime:            g.LastUpdateTime,
		PeriodDuration:            g.PeriodDuration,
		PeriodFinish:              g.PeriodFinish,
		Initialized:               g.Initialized,
	}
}

func (s *storedStakeRewardsGlobal) toGlobalState() *stakerewards.GlobalState {
	g := &stakerewards.GlobalState{
		TotalStaked:               s.TotalStaked,
		SumOfEntryTimes:           s.SumOfEntryTimes,
		IdealPosition:             s.IdealPosition,
		RewardsPerStakingDuration: s.RewardsPerStakingDuration,
		RewardRate:                s.RewardRate,
		UnallocatedReward:         s.UnallocatedReward,
		TotalFunded:               s.TotalFunded,
		TotalHarvested:            s.TotalHarvested,
		TotalCompounded:           s.TotalCompounded,
		InitTime:                  s.InitTime,
		LastUpdateTime:            s.LastUpdateTime,
		PeriodDuration:            s.PeriodDuration,
		PeriodFinish:              s.PeriodFinish,
		Initialized:               s.Initialized,
	}
	// Clone fills nil counters with zero.
	return g.Clone()
}

type storedStakeRewardsPosition struct {
	Address                        common.Address
	Balance                        *big.Int
	EntryTimes                     *big.Int
	EntryIdealPosition             *big.Int
	EntryRewardsPerStakingDuration *big.Int
	SettledReward                  *big.Int
	LastSettled                    uint64
}

func newStoredStakeRewardsPosition(p *stakerewards.Position) *storedStakeRewardsPosition {
	p = p.Clone()
	return &storedStakeRewardsPosition{
		Address:                        p.Address,
		Balance:                        p.Balance,
		EntryTimes:                     p.EntryTimes,
		EntryIdealPosition:             p.EntryIdealPosition,
		EntryRewardsPerStakingDuration: p.EntryRewardsPerStakingDuration,
		SettledReward:                  p.SettledReward,
		LastSettled:                    p.LastSettled,
	}
}

func (s *storedStakeRewardsPosition) toPosition() *stakerewards.Position {
	p := &stakerewards.Position{
		Address:                        s.Address,
		Balance:                        s.Balance,
		EntryTimes:                     s.EntryTimes,
		EntryIdealPosition:             s.EntryIdealPosition,
		EntryRewardsPerStakingDuration: s.EntryRewardsPerStakingDuration,
		SettledReward:                  s.SettledReward,
		LastSettled:                    s.LastSettled,
	}
	return p.Clone()
}

func stakeRewardsPositionKey(addr common.Address) []byte {
	return []byte(stakeRewardsPositionPrefix + strings.ToLower(addr.Hex()))
}

// GetGlobal returns the stored global state, or nil when the ledger has never
// been committed.
func (s *StakeRewardsStore) GetGlobal() (*stakerewards.GlobalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.db.Get([]byte(stakeRewardsGlobalKey))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load stakerewards global: %w", err)
	}
	stored := new(storedStakeRewardsGlobal)
	if err := rlp.DecodeBytes(raw, stored); err != nil {
		return nil, fmt.Errorf("state: decode stakerewards global: %w", err)
	}
	return stored.toGlobalState(), nil
}

// GetPosition returns the stored position for addr, or nil when absent.
func (s *StakeRewardsStore) GetPosition(addr common.Address) (*stakerewards.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getPosition(addr)
}

func (s *StakeRewardsStore) getPosition(addr common.Address) (*stakerewards.Position, error) {
	raw, err := s.db.Get(stakeRewardsPositionKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load stakerewards position %s: %w", addr.Hex(), err)
	}
	stored := new(storedStakeRewardsPosition)
	if err := rlp.DecodeBytes(raw, stored); err != nil {
		return nil, fmt.Errorf("state: decode stakerewards position %s: %w", addr.Hex(), err)
	}
	return stored.toPosition(), nil
}

// Commit writes the global state and, when non-nil, the position in a single
// batch. New positions are appended to the position index in the same batch;
// a new position that is still empty is not stored.
func (s *StakeRewardsStore) Commit(global *stakerewards.GlobalState, position *stakerewards.Position) error {
	if global == nil {
		return fmt.Errorf("state: stakerewards global state required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	encodedGlobal, err := rlp.EncodeToBytes(newStoredStakeRewardsGlobal(global))
	if err != nil {
		return fmt.Errorf("state: encode stakerewards global: %w", err)
	}
	batch.Put([]byte(stakeRewardsGlobalKey), encodedGlobal)

	if position != nil {
		key := stakeRewardsPositionKey(position.Address)
		exists, err := s.db.Has(key)
		if err != nil {
			return fmt.Errorf("state: check stakerewards position: %w", err)
		}
		if exists || !position.IsEmpty() {
			encoded, err := rlp.EncodeToBytes(newStoredStakeRewardsPosition(position))
			if err != nil {
				return fmt.Errorf("state: encode stakerewards position: %w", err)
			}
			if !exists {
				index, err := s.loadIndex()
				if err != nil {
					return err
				}
				index = append(index, position.Address)
				encodedIndex, err := rlp.EncodeToBytes(index)
				if err != nil {
					return fmt.Errorf("state: encode stakerewards index: %w", err)
				}
				batch.Put([]byte(stakeRewardsPositionIndexKey), encodedIndex)
			}
			batch.Put(key, encoded)
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit stakerewards: %w", err)
	}
	return nil
}

func (s *StakeRewardsStore) loadIndex() ([]common.Address, error) {
	raw, err := s.db.Get([]byte(stakeRewardsPositionIndexKey))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load stakerewards index: %w", err)
	}
	var index []common.Address
	if err := rlp.DecodeBytes(raw, &index); err != nil {
		return nil, fmt.Errorf("state: decode stakerewards index: %w", err)
	}
	return index, nil
}

// Positions returns every stored position ordered by address.
func (s *StakeRewardsStore) Positions() ([]*stakerewards.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	sort.Slice(index, func(i, j int) bool {
		return bytes.Compare(index[i].Bytes(), index[j].Bytes()) < 0
	})
	out := make([]*stakerewards.Position, 0, len(index))
	for _, addr := range index {
		pos, err := s.getPosition(addr)
		if err != nil {
			return nil, err
		}
		if pos != nil {
			out = append(out, pos)
		}
	}
	return out, nil
}
