package state

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/native/stakerewards"
	"stakeledger/storage"
)

type nopCustody struct{}

func (nopCustody) TransferIn(common.Address, *big.Int) error    { return nil }
func (nopCustody) TransferOut(common.Address, *big.Int) error   { return nil }
func (nopCustody) PayReward(common.Address, *big.Int) error     { return nil }
func (nopCustody) DepositReward(common.Address, *big.Int) error { return nil }

func TestStakeRewardsStoreEmpty(t *testing.T) {
	store := NewStakeRewardsStore(storage.NewMemDB())
	global, err := store.GetGlobal()
	if err != nil || global != nil {
		t.Fatalf("expected nil global, got %+v err=%v", global, err)
	}
	pos, err := store.GetPosition(common.HexToAddress("0x01"))
	if err != nil || pos != nil {
		t.Fatalf("expected nil position, got %+v err=%v", pos, err)
	}
	if err := store.Commit(nil, nil); err == nil {
		t.Fatalf("expected error committing nil global")
	}
}

func TestStakeRewardsStoreRoundTrip(t *testing.T) {
	store := NewStakeRewardsStore(storage.NewMemDB())
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	global := stakerewards.NewGlobalState()
	global.TotalStaked = big.NewInt(500)
	global.IdealPosition = new(big.Int).Lsh(big.NewInt(3), 300)
	global.UnallocatedReward = new(big.Int).Mul(big.NewInt(7), stakerewards.Precision)
	global.InitTime = 10
	global.LastUpdateTime = 20
	global.PeriodDuration = 30
	global.PeriodFinish = 50
	global.Initialized = true

	pos := &stakerewards.Position{
		Address:       addr,
		Balance:       big.NewInt(500),
		EntryTimes:    big.NewInt(5000),
		SettledReward: big.NewInt(3),
		LastSettled:   20,
	}
	if err := store.Commit(global, pos); err != nil {
		t.Fatalf("commit: %v", err)
	}

	loaded, err := store.GetGlobal()
	if err != nil {
		t.Fatalf("get global: %v", err)
	}
	if loaded.IdealPosition.Cmp(global.IdealPosition) != 0 || loaded.UnallocatedReward.Cmp(global.UnallocatedReward) != 0 {
		t.Fatalf("accumulators not preserved")
	}
	if !loaded.Initialized || loaded.PeriodFinish != 50 || loaded.TotalFunded.Sign() != 0 {
		t.Fatalf("unexpected global %+v", loaded)
	}

	loadedPos, err := store.GetPosition(addr)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if loadedPos.Address != addr || loadedPos.EntryTimes.Cmp(big.NewInt(5000)) != 0 || loadedPos.EntryIdealPosition.Sign() != 0 {
		t.Fatalf("unexpected position %+v", loadedPos)
	}

	// Re-committing an existing position must not duplicate the index entry.
	if err := store.Commit(global, pos); err != nil {
		t.Fatalf("recommit: %v", err)
	}
	positions, err := store.Positions()
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 indexed position, got %d", len(positions))
	}
}

func TestStakeRewardsStoreBacksEngine(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger")
	db, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}

	start := time.Unix(1_700_000_000, 0)
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	engine := stakerewards.NewEngine(stakerewards.DefaultConfig())
	engine.SetState(NewStakeRewardsStore(db))
	engine.SetCustody(nopCustody{})
	if err := engine.Initialize(start); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Fund(common.Address{}, big.NewInt(30_000_000), start); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := engine.Stake(bob, big.NewInt(20), start); err != nil {
		t.Fatalf("stake bob: %v", err)
	}
	if _, err := engine.Stake(alice, big.NewInt(10), start); err != nil {
		t.Fatalf("stake alice: %v", err)
	}
	before, err := engine.Pending(alice, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	db.Close()

	reopened, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	defer reopened.Close()
	store := NewStakeRewardsStore(reopened)
	restarted := stakerewards.NewEngine(stakerewards.DefaultConfig())
	restarted.SetState(store)
	restarted.SetCustody(nopCustody{})
	if err := restarted.Initialize(start); err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
	after, err := restarted.Pending(alice, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("pending after restart: %v", err)
	}
	if before.Cmp(after) != 0 {
		t.Fatalf("pending changed across restart: %s vs %s", before, after)
	}

	positions, err := store.Positions()
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 2 || positions[0].Address != alice || positions[1].Address != bob {
		t.Fatalf("unexpected position order %+v", positions)
	}
}

func TestStakeRewardsStoreSkipsNewEmptyPosition(t *testing.T) {
	store := NewStakeRewardsStore(storage.NewMemDB())
	start := time.Unix(1_700_000_000, 0)
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	carol := common.HexToAddress("0x00000000000000000000000000000000000000c3")

	engine := stakerewards.NewEngine(stakerewards.DefaultConfig())
	engine.SetState(store)
	engine.SetCustody(nopCustody{})
	if err := engine.Initialize(start); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Fund(common.Address{}, big.NewInt(1_000_000), start); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := engine.Harvest(carol, start.Add(time.Hour)); err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if _, err := engine.Stake(carol, big.NewInt(0), start.Add(2*time.Hour)); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if pos, err := store.GetPosition(carol); err != nil || pos != nil {
		t.Fatalf("expected no stored position, got %+v err=%v", pos, err)
	}

	if _, err := engine.Stake(alice, big.NewInt(10), start.Add(3*time.Hour)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, err := engine.Withdraw(alice, big.NewInt(10), start.Add(4*time.Hour)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	stored, err := store.GetPosition(alice)
	if err != nil || stored == nil {
		t.Fatalf("expected stored position, got %+v err=%v", stored, err)
	}
	if stored.Balance.Sign() != 0 {
		t.Fatalf("withdrawn position kept balance %s", stored.Balance)
	}
	positions, err := store.Positions()
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 1 || positions[0].Address != alice {
		t.Fatalf("unexpected index %+v", positions)
	}
}
