package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"stakeledger/native/stakerewards"
)

// Genesis describes the initial state of a staking rewards ledger.
type Genesis struct {
	// Paused starts the ledger with mutations rejected.
	Paused       bool                `toml:"Paused"`
	StakeRewards stakerewards.Config `toml:"stakerewards"`
	Allocations  []Allocation        `toml:"allocations"`
}

// Allocation credits an account with an initial asset balance.
type Allocation struct {
	Address string `toml:"Address"`
	Asset   string `toml:"Asset"`
	Amount  string `toml:"Amount"`
}

// Load reads the genesis file at path. When the file does not exist a default
// genesis is written there and returned.
func Load(path string) (*Genesis, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Genesis{StakeRewards: stakerewards.DefaultConfig()}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config: %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.normalize()
	if err := ValidateGenesis(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *Genesis) normalize() {
	g.StakeRewards = g.StakeRewards.Normalize()
	for i := range g.Allocations {
		alloc := &g.Allocations[i]
		alloc.Address = strings.TrimSpace(alloc.Address)
		alloc.Amount = strings.TrimSpace(alloc.Amount)
		alloc.Asset = strings.ToUpper(strings.TrimSpace(alloc.Asset))
		if alloc.Asset == "" {
			alloc.Asset = g.StakeRewards.StakeAsset
		}
	}
}

func createDefault(path string) (*Genesis, error) {
	cfg := &Genesis{StakeRewards: stakerewards.DefaultConfig()}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Genesis) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
