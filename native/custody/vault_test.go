package custody

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"stakeledger/core/state"
	"stakeledger/native/stakerewards"
	"stakeledger/storage"
)

func TestVaultTransfers(t *testing.T) {
	vault := NewVault(storage.NewMemDB(), "png", "PNG")
	user := common.HexToAddress("0x0000000000000000000000000000000000000001")

	if err := vault.Credit("PNG", user, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := vault.TransferIn(user, big.NewInt(40)); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	bal, err := vault.Balance("png", user)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("expected 60, got %s", bal)
	}
	principal, reward, err := vault.Holdings()
	if err != nil {
		t.Fatalf("holdings: %v", err)
	}
	if principal.Cmp(big.NewInt(40)) != 0 || reward.Sign() != 0 {
		t.Fatalf("unexpected holdings %s/%s", principal, reward)
	}

	err = vault.TransferOut(user, big.NewInt(41))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := vault.TransferIn(user, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := vault.Balance("RWD", user); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestVaultSeparatesPrincipalAndReward(t *testing.T) {
	vault := NewVault(storage.NewMemDB(), "PNG", "PNG")
	if vault.StakeVault() == vault.RewardVault() {
		t.Fatalf("principal and reward vaults must differ")
	}
	funder := common.HexToAddress("0x00000000000000000000000000000000000000f0")
	if err := vault.Credit("PNG", funder, big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := vault.DepositReward(funder, big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := vault.TransferOut(funder, big.NewInt(1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("reward funds must not back principal withdrawals, got %v", err)
	}
	if err := vault.Restake(funder, big.NewInt(4)); err != nil {
		t.Fatalf("restake: %v", err)
	}
	principal, reward, err := vault.Holdings()
	if err != nil {
		t.Fatalf("holdings: %v", err)
	}
	if principal.Cmp(big.NewInt(4)) != 0 || reward.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("unexpected holdings %s/%s", principal, reward)
	}

	split := NewVault(storage.NewMemDB(), "PNG", "RWD")
	if err := split.Restake(funder, big.NewInt(1)); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected restake rejection for mixed assets, got %v", err)
	}
}

func TestVaultBacksEngine(t *testing.T) {
	db := storage.NewMemDB()
	cfg := stakerewards.DefaultConfig()
	vault := NewVault(db, cfg.StakeAsset, cfg.RewardAsset)

	engine := stakerewards.NewEngine(cfg)
	engine.SetState(state.NewStakeRewardsStore(db))
	engine.SetCustody(vault)

	start := time.Unix(1_700_000_000, 0)
	day := 24 * time.Hour
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	funder := common.HexToAddress("0x00000000000000000000000000000000000000f0")

	for _, addr := range []common.Address{alice, bob} {
		require.NoError(t, vault.Credit(cfg.StakeAsset, addr, big.NewInt(1_000)))
	}
	require.NoError(t, vault.Credit(cfg.RewardAsset, funder, big.NewInt(30_000_000)))
	require.NoError(t, engine.Initialize(start))

	require.NoError(t, engine.Fund(funder, big.NewInt(30_000_000), start))
	_, err := engine.Stake(alice, big.NewInt(600), start)
	require.NoError(t, err)
	_, err = engine.Stake(bob, big.NewInt(400), start.Add(day))
	require.NoError(t, err)

	_, err = engine.Stake(alice, big.NewInt(500), start.Add(2*day))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = engine.Compound(alice, start.Add(3*day))
	require.NoError(t, err)
	_, err = engine.Harvest(bob, start.Add(4*day))
	require.NoError(t, err)
	pos, err := engine.Position(alice)
	require.NoError(t, err)
	_, err = engine.Withdraw(alice, pos.Balance, start.Add(5*day))
	require.NoError(t, err)

	audit, err := engine.Audit()
	require.NoError(t, err)
	principal, reward, err := vault.Holdings()
	require.NoError(t, err)
	require.Zero(t, principal.Cmp(audit.TotalStaked), "principal vault %s, staked %s", principal, audit.TotalStaked)

	outstanding := new(big.Int).Sub(audit.TotalFunded, audit.TotalHarvested)
	outstanding.Sub(outstanding, audit.TotalCompounded)
	require.Zero(t, reward.Cmp(outstanding), "reward vault %s, outstanding %s", reward, outstanding)

	aliceBal, err := vault.Balance(cfg.StakeAsset, alice)
	require.NoError(t, err)
	require.Equal(t, 1, aliceBal.Cmp(big.NewInt(1_000)), "alice should hold principal plus compounded reward")
}

func TestVaultApplyGenesisOnce(t *testing.T) {
	db := storage.NewMemDB()
	vault := NewVault(db, "PNG", "PNG")
	user := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	_, err := vault.ApplyGenesis([]Grant{{Asset: "RWD", Address: user, Amount: big.NewInt(5)}})
	require.ErrorIs(t, err, ErrUnknownAsset)

	grants := []Grant{
		{Asset: "png", Address: user, Amount: big.NewInt(5)},
		{Asset: "PNG", Address: user, Amount: big.NewInt(7)},
	}
	applied, err := vault.ApplyGenesis(grants)
	require.NoError(t, err)
	require.True(t, applied)

	// A fresh vault over the same database sees the marker.
	reopened := NewVault(db, "PNG", "PNG")
	applied, err = reopened.ApplyGenesis(grants)
	require.NoError(t, err)
	require.False(t, applied)

	bal, err := reopened.Balance("PNG", user)
	require.NoError(t, err)
	require.Zero(t, bal.Cmp(big.NewInt(12)), "balance %s", bal)
}
