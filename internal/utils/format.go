package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

var (
	pow10_9  = big.NewInt(params.GWei)
	pow10_18 = big.NewInt(params.Ether)

	etherScale = new(big.Float).SetInt(pow10_18)
	gweiScale  = new(big.Float).SetInt(pow10_9)
)

// ToWei converts a decimal Ether amount such as "0.01" to Wei.
func ToWei(decimalAmount string) (*big.Int, error) {
	amountFloat, _, err := big.ParseFloat(strings.TrimSpace(decimalAmount), 10, 256, big.ToNearestEven)
	if err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", decimalAmount, err)
	}
	if amountFloat.IsInf() {
		return nil, fmt.Errorf("amount %q must be finite", decimalAmount)
	}
	if amountFloat.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", decimalAmount)
	}

	amountFloat.Mul(amountFloat, etherScale)
	weiAmount := new(big.Int)
	amountFloat.Int(weiAmount)
	return weiAmount, nil
}

// FromWei converts a *big.Int (Wei) to a decimal string (Ether).
func FromWei(weiAmount *big.Int) string {
	return scaleDown(weiAmount, etherScale, 18)
}

// FromGwei converts a Wei amount to a decimal string in Gwei, used for fee display.
func FromGwei(weiAmount *big.Int) string {
	return scaleDown(weiAmount, gweiScale, 9)
}

func scaleDown(amount *big.Int, scale *big.Float, digits int) string {
	if amount == nil {
		return "0"
	}
	f := new(big.Float).SetInt(amount)
	f.Quo(f, scale)
	s := f.Text('f', digits)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}
