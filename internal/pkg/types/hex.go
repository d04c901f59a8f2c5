// Package types holds small shared value types used across the recovery
// core: hexadecimal chain values (block heights, felts, class hashes),
// wei-denominated amounts, and a generic set.
package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Hex is a "0x"-prefixed hexadecimal value as returned by chain RPC
// endpoints (block heights, contract addresses, class hashes, felts).
type Hex string

// HexFromString validates s and returns it as a Hex value.
func HexFromString(s string) (Hex, error) {
	if err := validateHex(s); err != nil {
		return "", err
	}
	return Hex(s), nil
}

// HexFromUint64 encodes n as a minimal "0x"-prefixed hex string.
func HexFromUint64(n uint64) Hex {
	return Hex(fmt.Sprintf("0x%x", n))
}

func validateHex(s string) error {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return fmt.Errorf("hex value must start with 0x")
	}
	if len(s) == 2 {
		return fmt.Errorf("hex value has no digits")
	}
	if _, ok := new(big.Int).SetString(s[2:], 16); !ok {
		return fmt.Errorf("invalid hexadecimal value %q", s)
	}
	return nil
}

// IsZero reports whether the value decodes to zero. Empty values count
// as zero; chain endpoints report undeployed contracts as "0x0".
func (h Hex) IsZero() bool {
	if h == "" {
		return true
	}
	v, ok := new(big.Int).SetString(strings.TrimPrefix(string(h), "0x"), 16)
	return ok && v.Sign() == 0
}

// Uint64 decodes the value as a uint64. Invalid or oversized values
// decode to zero.
func (h Hex) Uint64() uint64 {
	if len(h) < 3 {
		return 0
	}
	v, ok := new(big.Int).SetString(string(h)[2:], 16)
	if !ok || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}

// BigInt decodes the value as a big integer, returning zero for
// invalid input.
func (h Hex) BigInt() *big.Int {
	if len(h) < 3 {
		return new(big.Int)
	}
	v, ok := new(big.Int).SetString(string(h)[2:], 16)
	if !ok {
		return new(big.Int)
	}
	return v
}

// MarshalJSON encodes the Hex as a JSON string.
func (h Hex) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(h))
}

// UnmarshalJSON parses and validates a JSON-encoded hex string.
func (h *Hex) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid hex string: %w", err)
	}
	if err := validateHex(s); err != nil {
		return err
	}
	*h = Hex(s)
	return nil
}
