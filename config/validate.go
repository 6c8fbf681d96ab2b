package config

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/native/custody"
)

// GenesisApplier credits genesis allocations at most once per database.
type GenesisApplier interface {
	ApplyGenesis(grants []custody.Grant) (bool, error)
}

// ValidateGenesis checks ledger parameters and every allocation.
func ValidateGenesis(g *Genesis) error {
	if g == nil {
		return fmt.Errorf("config: genesis required")
	}
	cfg := g.StakeRewards
	if cfg.StakeAsset == "" || cfg.RewardAsset == "" {
		return fmt.Errorf("stakerewards: stake and reward assets required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(g.Allocations))
	for i, alloc := range g.Allocations {
		if alloc.Asset != cfg.StakeAsset && alloc.Asset != cfg.RewardAsset {
			return fmt.Errorf("allocations[%d]: asset %q not managed by the ledger", i, alloc.Asset)
		}
		addr, _, err := alloc.Parse()
		if err != nil {
			return fmt.Errorf("allocations[%d]: %w", i, err)
		}
		key := alloc.Asset + "/" + addr.Hex()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("allocations[%d]: duplicate %s allocation for %s", i, alloc.Asset, addr.Hex())
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Parse decodes the allocation address and amount.
func (a Allocation) Parse() (common.Address, *big.Int, error) {
	if !common.IsHexAddress(a.Address) {
		return common.Address{}, nil, fmt.Errorf("invalid address %q", a.Address)
	}
	amount, ok := new(big.Int).SetString(a.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return common.Address{}, nil, fmt.Errorf("invalid amount %q", a.Amount)
	}
	return common.HexToAddress(a.Address), amount, nil
}

// Apply hands every allocation to a in a single call. It reports whether the
// allocations were credited; false means a previous start already did so.
func (g *Genesis) Apply(a GenesisApplier) (bool, error) {
	grants := make([]custody.Grant, 0, len(g.Allocations))
	for i, alloc := range g.Allocations {
		addr, amount, err := alloc.Parse()
		if err != nil {
			return false, fmt.Errorf("allocations[%d]: %w", i, err)
		}
		grants = append(grants, custody.Grant{Asset: alloc.Asset, Address: addr, Amount: amount})
	}
	applied, err := a.ApplyGenesis(grants)
	if err != nil {
		return false, fmt.Errorf("apply genesis: %w", err)
	}
	return applied, nil
}
