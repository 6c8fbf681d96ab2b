package config

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/native/custody"
	"stakeledger/native/stakerewards"
	"stakeledger/storage"
)

func writeGenesis(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	return path
}

func TestLoadParsesGenesis(t *testing.T) {
	path := writeGenesis(t, `Paused = true

[stakerewards]
StakeAsset = " png "
RewardAsset = "png"
PeriodDurationSeconds = 604800
CompoundEnabled = true

[[allocations]]
Address = "0x00000000000000000000000000000000000000a1"
Amount = "1000"

[[allocations]]
Address = "0x00000000000000000000000000000000000000f0"
Asset = "png"
Amount = "5000000"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Paused {
		t.Fatalf("expected paused genesis")
	}
	if cfg.StakeRewards.StakeAsset != "PNG" || cfg.StakeRewards.PeriodDurationSeconds != 604800 {
		t.Fatalf("unexpected ledger config %+v", cfg.StakeRewards)
	}
	if len(cfg.Allocations) != 2 || cfg.Allocations[0].Asset != "PNG" {
		t.Fatalf("unexpected allocations %+v", cfg.Allocations)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "genesis.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StakeRewards != stakerewards.DefaultConfig() {
		t.Fatalf("expected default ledger config, got %+v", cfg.StakeRewards)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default genesis not persisted: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.StakeRewards != cfg.StakeRewards {
		t.Fatalf("reloaded config differs: %+v", reloaded.StakeRewards)
	}
}

func TestLoadRejectsInvalidGenesis(t *testing.T) {
	cases := map[string]string{
		"unknown key": `Bogus = 1`,
		"compound mismatch": `[stakerewards]
StakeAsset = "PNG"
RewardAsset = "RWD"
CompoundEnabled = true`,
		"bad address": `[[allocations]]
Address = "not-an-address"
Amount = "1"`,
		"bad amount": `[[allocations]]
Address = "0x00000000000000000000000000000000000000a1"
Amount = "-5"`,
		"foreign asset": `[[allocations]]
Address = "0x00000000000000000000000000000000000000a1"
Asset = "BTC"
Amount = "5"`,
		"duplicate": `[[allocations]]
Address = "0x00000000000000000000000000000000000000a1"
Amount = "5"

[[allocations]]
Address = "0x00000000000000000000000000000000000000A1"
Amount = "6"`,
	}
	for name, contents := range cases {
		if _, err := Load(writeGenesis(t, contents)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadCompoundMismatchIsTyped(t *testing.T) {
	path := writeGenesis(t, `[stakerewards]
StakeAsset = "PNG"
RewardAsset = "RWD"
CompoundEnabled = true`)
	_, err := Load(path)
	if !errors.Is(err, stakerewards.ErrCompoundAssetMismatch) {
		t.Fatalf("expected ErrCompoundAssetMismatch, got %v", err)
	}
}

func TestApplyCreditsAllocationsOnce(t *testing.T) {
	g := &Genesis{
		StakeRewards: stakerewards.DefaultConfig(),
		Allocations: []Allocation{
			{Address: "0x00000000000000000000000000000000000000a1", Asset: "PNG", Amount: "10"},
			{Address: "0x00000000000000000000000000000000000000b2", Asset: "PNG", Amount: "20"},
		},
	}
	vault := custody.NewVault(storage.NewMemDB(), "PNG", "PNG")
	applied, err := g.Apply(vault)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !applied {
		t.Fatalf("expected first apply to credit allocations")
	}

	applied, err = g.Apply(vault)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if applied {
		t.Fatalf("second apply credited allocations again")
	}

	want := map[string]int64{
		"0x00000000000000000000000000000000000000a1": 10,
		"0x00000000000000000000000000000000000000b2": 20,
	}
	for addr, amount := range want {
		bal, err := vault.Balance("PNG", common.HexToAddress(addr))
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if bal.Cmp(big.NewInt(amount)) != 0 {
			t.Fatalf("%s holds %s, want %d", addr, bal, amount)
		}
	}
}
