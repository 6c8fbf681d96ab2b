package stakerewards

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Precision is the fixed-point scale of the reward accumulators (2^256).
var Precision = new(big.Int).Lsh(big.NewInt(1), 256)

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func sign(v *big.Int) int {
	if v == nil {
		return 0
	}
	return v.Sign()
}

// checkAmount validates a token amount: non-negative, representable as a
// uint256 and, unless allowZero, strictly positive.
func checkAmount(amount *big.Int, allowZero bool) (*big.Int, error) {
	if amount == nil {
		if allowZero {
			return big.NewInt(0), nil
		}
		return nil, ErrInvalidAmount
	}
	if amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if amount.Sign() == 0 && !allowZero {
		return nil, ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(amount), nil
}

// addBalance adds two uint256 token quantities, failing on overflow.
func addBalance(a, b *big.Int) (*big.Int, error) {
	x, overflowA := uint256.FromBig(cloneBigInt(a))
	y, overflowB := uint256.FromBig(cloneBigInt(b))
	if overflowA || overflowB {
		return nil, ErrAmountOverflow
	}
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return sum.ToBig(), nil
}

// subBalance subtracts b from a, failing when the result would be negative.
func subBalance(a, b *big.Int) (*big.Int, error) {
	x, overflowA := uint256.FromBig(cloneBigInt(a))
	y, overflowB := uint256.FromBig(cloneBigInt(b))
	if overflowA || overflowB {
		return nil, ErrAmountOverflow
	}
	diff, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrInsufficientBalance
	}
	return diff.ToBig(), nil
}

// weighted returns amount × τ, the entry-time weight of a deposit made τ
// seconds after ledger inception.
func weighted(amount *big.Int, tau uint64) *big.Int {
	return new(big.Int).Mul(cloneBigInt(amount), new(big.Int).SetUint64(tau))
}

// scale lifts a whole reward amount into the Precision domain.
func scale(amount *big.Int) *big.Int {
	return new(big.Int).Mul(cloneBigInt(amount), Precision)
}

// unscale truncates a Precision-scaled value to whole reward units.
func unscale(v *big.Int) *big.Int {
	return new(big.Int).Quo(cloneBigInt(v), Precision)
}
