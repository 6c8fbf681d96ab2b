package custody

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"stakeledger/storage"
)

var (
	ErrInvalidAmount     = errors.New("custody: invalid amount")
	ErrInsufficientFunds = errors.New("custody: insufficient funds")
	ErrUnknownAsset      = errors.New("custody: unknown asset")
)

const (
	balanceKeyFormat = "custody/balance/%s/%s"
	genesisKey       = "custody/genesis-applied"
)

// Grant is an initial balance credited when the vault is first created.
type Grant struct {
	Asset   string
	Address common.Address
	Amount  *big.Int
}

// ModuleAddress derives the deterministic account that holds funds on behalf
// of a named module.
func ModuleAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("module/" + name))[12:])
}

// Vault keeps per-asset account balances in a key/value database and moves
// funds between user accounts and the ledger's module accounts. Each transfer
// debits and credits in one batch.
type Vault struct {
	mu          sync.Mutex
	db          storage.Database
	stakeAsset  string
	rewardAsset string
	stakeVault  common.Address
	rewardVault common.Address
}

// NewVault constructs a vault for the provided stake and reward assets.
// Principal and reward are held in separate module accounts even when both
// assets are the same token.
func NewVault(db storage.Database, stakeAsset, rewardAsset string) *Vault {
	return &Vault{
		db:          db,
		stakeAsset:  normalizeAsset(stakeAsset),
		rewardAsset: normalizeAsset(rewardAsset),
		stakeVault:  ModuleAddress("stakerewards/principal"),
		rewardVault: ModuleAddress("stakerewards/rewards"),
	}
}

// StakeVault returns the module account holding staked principal.
func (v *Vault) StakeVault() common.Address { return v.stakeVault }

// RewardVault returns the module account holding undistributed reward.
func (v *Vault) RewardVault() common.Address { return v.rewardVault }

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func balanceKey(asset string, addr common.Address) []byte {
	return []byte(fmt.Sprintf(balanceKeyFormat, asset, strings.ToLower(addr.Hex())))
}

func (v *Vault) knownAsset(asset string) (string, error) {
	normalized := normalizeAsset(asset)
	if normalized == "" || (normalized != v.stakeAsset && normalized != v.rewardAsset) {
		return "", fmt.Errorf("%w: %q", ErrUnknownAsset, asset)
	}
	return normalized, nil
}

func (v *Vault) balance(asset string, addr common.Address) (*big.Int, error) {
	raw, err := v.db.Get(balanceKey(asset, addr))
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("custody: load balance: %w", err)
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(raw, amount); err != nil {
		return nil, fmt.Errorf("custody: decode balance: %w", err)
	}
	return amount, nil
}

func putBalance(batch storage.Batch, asset string, addr common.Address, amount *big.Int) error {
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return fmt.Errorf("custody: encode balance: %w", err)
	}
	batch.Put(balanceKey(asset, addr), encoded)
	return nil
}

// Balance returns the holdings of addr in asset.
func (v *Vault) Balance(asset string, addr common.Address) (*big.Int, error) {
	normalized, err := v.knownAsset(asset)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance(normalized, addr)
}

// Credit mints amount of asset into addr. Used for genesis allocations.
func (v *Vault) Credit(asset string, addr common.Address, amount *big.Int) error {
	normalized, err := v.knownAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	current, err := v.balance(normalized, addr)
	if err != nil {
		return err
	}
	batch := v.db.NewBatch()
	if err := putBalance(batch, normalized, addr, new(big.Int).Add(current, amount)); err != nil {
		return err
	}
	return batch.Write()
}

// ApplyGenesis credits every grant and records that genesis ran, all in one
// batch. It reports false without touching balances when genesis was already
// applied to this database.
func (v *Vault) ApplyGenesis(grants []Grant) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	applied, err := v.db.Has([]byte(genesisKey))
	if err != nil {
		return false, fmt.Errorf("custody: check genesis marker: %w", err)
	}
	if applied {
		return false, nil
	}
	pending := make(map[string]*big.Int, len(grants))
	order := make([]Grant, 0, len(grants))
	for i, grant := range grants {
		asset, err := v.knownAsset(grant.Asset)
		if err != nil {
			return false, fmt.Errorf("grant %d: %w", i, err)
		}
		if grant.Amount == nil || grant.Amount.Sign() <= 0 {
			return false, fmt.Errorf("grant %d: %w", i, ErrInvalidAmount)
		}
		key := string(balanceKey(asset, grant.Address))
		current, ok := pending[key]
		if !ok {
			if current, err = v.balance(asset, grant.Address); err != nil {
				return false, err
			}
			order = append(order, Grant{Asset: asset, Address: grant.Address})
		}
		pending[key] = new(big.Int).Add(current, grant.Amount)
	}
	batch := v.db.NewBatch()
	for _, grant := range order {
		if err := putBalance(batch, grant.Asset, grant.Address, pending[string(balanceKey(grant.Asset, grant.Address))]); err != nil {
			return false, err
		}
	}
	batch.Put([]byte(genesisKey), []byte{1})
	if err := batch.Write(); err != nil {
		return false, fmt.Errorf("custody: write genesis: %w", err)
	}
	return true, nil
}

func (v *Vault) transfer(asset string, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	fromBal, err := v.balance(asset, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientFunds, from.Hex(), fromBal, asset, amount)
	}
	toBal, err := v.balance(asset, to)
	if err != nil {
		return err
	}
	batch := v.db.NewBatch()
	if err := putBalance(batch, asset, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := putBalance(batch, asset, to, new(big.Int).Add(toBal, amount)); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("custody: write transfer: %w", err)
	}
	return nil
}

// TransferIn moves staked principal from a user into the principal vault.
func (v *Vault) TransferIn(from common.Address, amount *big.Int) error {
	return v.transfer(v.stakeAsset, from, v.stakeVault, amount)
}

// TransferOut returns staked principal to a user.
func (v *Vault) TransferOut(to common.Address, amount *big.Int) error {
	return v.transfer(v.stakeAsset, v.stakeVault, to, amount)
}

// PayReward pays reward from the reward vault to a user.
func (v *Vault) PayReward(to common.Address, amount *big.Int) error {
	return v.transfer(v.rewardAsset, v.rewardVault, to, amount)
}

// DepositReward moves funding from a funder into the reward vault.
func (v *Vault) DepositReward(from common.Address, amount *big.Int) error {
	return v.transfer(v.rewardAsset, from, v.rewardVault, amount)
}

// Restake moves compounded reward into the principal vault. Only valid when
// the stake and reward assets match.
func (v *Vault) Restake(_ common.Address, amount *big.Int) error {
	if v.stakeAsset != v.rewardAsset {
		return fmt.Errorf("%w: cannot restake %s as %s", ErrUnknownAsset, v.rewardAsset, v.stakeAsset)
	}
	return v.transfer(v.stakeAsset, v.rewardVault, v.stakeVault, amount)
}

// Unrestake reverses Restake.
func (v *Vault) Unrestake(_ common.Address, amount *big.Int) error {
	if v.stakeAsset != v.rewardAsset {
		return fmt.Errorf("%w: cannot restake %s as %s", ErrUnknownAsset, v.rewardAsset, v.stakeAsset)
	}
	return v.transfer(v.stakeAsset, v.stakeVault, v.rewardVault, amount)
}

// Holdings reports the principal and reward vault balances.
func (v *Vault) Holdings() (principal, reward *big.Int, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	principal, err = v.balance(v.stakeAsset, v.stakeVault)
	if err != nil {
		return nil, nil, err
	}
	reward, err = v.balance(v.rewardAsset, v.rewardVault)
	if err != nil {
		return nil, nil, err
	}
	return principal, reward, nil
}
