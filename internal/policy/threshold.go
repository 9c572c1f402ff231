package policy

import (
	"balance-keeper/internal/models"
	"math/big"
)

// DefaultGasLimit is the gas used by a plain value transfer.
const DefaultGasLimit uint64 = 21000

type Action int

const (
	ActionNone Action = iota
	ActionRefill
	ActionWithdraw
)

func (a Action) String() string {
	switch a {
	case ActionRefill:
		return "refill"
	case ActionWithdraw:
		return "withdraw"
	default:
		return "none"
	}
}

// GasCost returns gasLimit * gasPrice.
func GasCost(gasLimit uint64, gasPrice *big.Int) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
}

// Classify places a balance relative to the range.
func Classify(balance *big.Int, rng models.ThresholdRange) Action {
	switch {
	case balance.Cmp(rng.Lower) < 0:
		return ActionRefill
	case balance.Cmp(rng.Upper) > 0:
		return ActionWithdraw
	default:
		return ActionNone
	}
}

// RefillAmount tops the balance up to the range's upper bound. The faucet
// pays the gas, so nothing is deducted.
func RefillAmount(balance *big.Int, rng models.ThresholdRange) *big.Int {
	return new(big.Int).Sub(rng.Upper, balance)
}

// SweepAmount returns balance - gasCost - reserve and whether it is worth
// sending (strictly positive).
func SweepAmount(balance, gasCost, reserve *big.Int) (*big.Int, bool) {
	amount := new(big.Int).Sub(balance, gasCost)
	amount.Sub(amount, reserve)
	return amount, amount.Sign() > 0
}
