package orbiter

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeperhq/recoveryd/internal/chain"
	"github.com/keeperhq/recoveryd/internal/pkg/types"
)

const (
	testMaker     = "0xe530d28960d48708ccf3e62aa7b42a80bc427aef"
	testFrom      = "0x00a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3"
	testRecipient = "0x04f39d1f1f0c3b6ef56d168b27ad16cbd55e1473aa7eec5893d28bbcefe52a7a"
)

type transferOnlyClient struct {
	chain.Client

	transferFunc func(ctx context.Context, req chain.TransferRequest) (chain.TxHandle, error)
}

func (c *transferOnlyClient) SubmitTransfer(ctx context.Context, req chain.TransferRequest) (chain.TxHandle, error) {
	return c.transferFunc(ctx, req)
}

func mustAmount(t *testing.T, s string) types.Amount {
	t.Helper()

	a, err := types.ParseAmount(s)
	require.NoError(t, err)
	return a
}

func TestEncodeAmount(t *testing.T) {
	t.Run("should stamp the network code into the last four digits", func(t *testing.T) {
		encoded := EncodeAmount(mustAmount(t, "0.019"), starknetCode)

		wei := encoded.Wei()
		assert.Equal(t, "19000000000009004", wei.String())
	})

	t.Run("should overwrite digits already present", func(t *testing.T) {
		wei, ok := new(big.Int).SetString("19000000000001234", 10)
		require.True(t, ok)

		encoded := EncodeAmount(types.AmountFromWei(wei), starknetCode)
		assert.Equal(t, "19000000000009004", encoded.Wei().String())
	})
}

func TestGateway_Deposit(t *testing.T) {
	t.Run("should submit an encoded transfer to the maker", func(t *testing.T) {
		g := NewGateway(testMaker, testFrom, []byte("transit-key"))

		var got chain.TransferRequest
		client := &transferOnlyClient{transferFunc: func(ctx context.Context, req chain.TransferRequest) (chain.TxHandle, error) {
			got = req
			return "0xbridge", nil
		}}

		handle, err := g.Deposit(t.Context(), client, mustAmount(t, "0.019"), testRecipient)
		require.NoError(t, err)
		assert.Equal(t, chain.TxHandle("0xbridge"), handle)

		assert.Equal(t, testFrom, got.From)
		assert.Equal(t, testMaker, got.To)
		assert.Equal(t, "t="+testRecipient, got.Memo)
		assert.Equal(t, []byte("transit-key"), got.SigningKey)
		assert.Equal(t, "19000000000009004", got.Amount.Wei().String())
	})

	t.Run("should refuse a deposit below the maker minimum", func(t *testing.T) {
		g := NewGateway(testMaker, testFrom, nil)

		client := &transferOnlyClient{transferFunc: func(ctx context.Context, req chain.TransferRequest) (chain.TxHandle, error) {
			return "", errors.New("should not be called")
		}}

		_, err := g.Deposit(t.Context(), client, mustAmount(t, "0.004"), testRecipient)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBelowMinimum)
	})

	t.Run("should pass the client error through", func(t *testing.T) {
		g := NewGateway(testMaker, testFrom, nil)

		client := &transferOnlyClient{transferFunc: func(ctx context.Context, req chain.TransferRequest) (chain.TxHandle, error) {
			return "", chain.ErrRejected
		}}

		_, err := g.Deposit(t.Context(), client, mustAmount(t, "0.019"), testRecipient)
		require.Error(t, err)
		assert.ErrorIs(t, err, chain.ErrRejected)
	})
}
