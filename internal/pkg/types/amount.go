package types

import (
	"fmt"
	"math/big"
	"strings"
)

// weiPerEther is 10^18, the number of wei in one ether.
var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Amount is a non-negative token amount held in wei. Using integer wei
// keeps bridge arithmetic exact; the decimal figures operators deal in
// (reserves, thresholds) are converted once at the configuration edge.
//
// The zero value is a valid zero amount.
type Amount struct {
	wei *big.Int
}

// AmountFromWei wraps an integer wei value. Negative values are clamped
// to zero. The input is copied.
func AmountFromWei(wei *big.Int) Amount {
	if wei == nil || wei.Sign() < 0 {
		return Amount{}
	}
	return Amount{wei: new(big.Int).Set(wei)}
}

// ParseAmount converts a decimal ether string (e.g. "0.019") into an
// Amount. At most 18 fractional digits are allowed.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > 18 {
		return Amount{}, fmt.Errorf("amount %q exceeds 18 decimal places", s)
	}

	whole, ok := new(big.Int).SetString(intPart, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	whole.Mul(whole, weiPerEther)

	if fracPart != "" {
		frac, ok := new(big.Int).SetString(fracPart+strings.Repeat("0", 18-len(fracPart)), 10)
		if !ok {
			return Amount{}, fmt.Errorf("invalid amount %q", s)
		}
		whole.Add(whole, frac)
	}

	return Amount{wei: whole}, nil
}

// Wei returns a copy of the underlying wei value.
func (a Amount) Wei() *big.Int {
	if a.wei == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.wei)
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{wei: new(big.Int).Add(a.Wei(), b.Wei())}
}

// Sub returns a - b, floored at zero.
func (a Amount) Sub(b Amount) Amount {
	d := new(big.Int).Sub(a.Wei(), b.Wei())
	if d.Sign() < 0 {
		return Amount{}
	}
	return Amount{wei: d}
}

// Cmp compares a against b, returning -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.Wei().Cmp(b.Wei())
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a.wei != nil && a.wei.Sign() > 0
}

// String renders the amount as a decimal ether string with trailing
// zeros trimmed (e.g. "0.019").
func (a Amount) String() string {
	wei := a.Wei()
	whole, frac := new(big.Int).QuoRem(wei, weiPerEther, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	digits := strings.TrimRight(fmt.Sprintf("%018s", frac.String()), "0")
	return whole.String() + "." + digits
}

// MarshalText encodes the amount as its decimal ether representation.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a decimal ether representation. This also makes
// Amount usable directly in envconfig-processed structs.
func (a *Amount) UnmarshalText(data []byte) error {
	parsed, err := ParseAmount(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
