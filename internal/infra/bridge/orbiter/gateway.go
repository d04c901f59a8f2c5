// Package orbiter implements the bridge gateway over the Orbiter
// maker protocol: a deposit is a plain transfer to the maker address
// with the destination network code encoded into the last four digits
// of the wei amount.
package orbiter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/keeperhq/recoveryd/internal/chain"
	"github.com/keeperhq/recoveryd/internal/pkg/logger"
	"github.com/keeperhq/recoveryd/internal/pkg/types"
)

const (
	// starknetCode routes the deposit to Starknet.
	starknetCode = 9004

	// codeModulus is the amount slot the network code occupies.
	codeModulus = 10_000
)

// minDeposit is the smallest amount the makers accept.
var minDeposit = func() types.Amount {
	a, err := types.ParseAmount("0.005")
	if err != nil {
		panic(err)
	}
	return a
}()

// ErrBelowMinimum is returned when the deposit is too small for the
// maker to route.
var ErrBelowMinimum = fmt.Errorf("deposit below bridge minimum of %s", minDeposit)

type gateway struct {
	maker      string
	from       string
	signingKey []byte
	code       uint64
}

var _ chain.BridgeGateway = (*gateway)(nil)

// Option adjusts gateway construction.
type Option func(*gateway)

// WithDestinationCode overrides the destination network code. Default:
// Starknet.
func WithDestinationCode(code uint64) Option {
	return func(g *gateway) {
		g.code = code
	}
}

// NewGateway builds a gateway depositing from the transit account
// identified by from, signing with signingKey, toward the given maker
// address.
func NewGateway(maker, from string, signingKey []byte, opts ...Option) *gateway {
	g := &gateway{
		maker:      maker,
		from:       from,
		signingKey: signingKey,
		code:       starknetCode,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Deposit encodes the destination code into amount and submits the
// transfer through c. The recipient rides along as a memo for the
// maker to credit on the destination side.
func (g *gateway) Deposit(ctx context.Context, c chain.Client, amount types.Amount, recipient string) (chain.TxHandle, error) {
	if amount.Cmp(minDeposit) < 0 {
		return "", fmt.Errorf("%w: got %s", ErrBelowMinimum, amount)
	}

	encoded := EncodeAmount(amount, g.code)
	logger.Info(ctx, "submitting bridge deposit",
		"maker", g.maker, "amount", encoded.String(), "recipient", recipient)

	return c.SubmitTransfer(ctx, chain.TransferRequest{
		From:       g.from,
		To:         g.maker,
		Amount:     encoded,
		Memo:       "t=" + recipient,
		SigningKey: g.signingKey,
	})
}

// EncodeAmount replaces the last four wei digits of amount with the
// destination network code.
func EncodeAmount(amount types.Amount, code uint64) types.Amount {
	wei := amount.Wei()
	wei.Quo(wei, big.NewInt(codeModulus))
	wei.Mul(wei, big.NewInt(codeModulus))
	wei.Add(wei, new(big.Int).SetUint64(code))
	return types.AmountFromWei(wei)
}
