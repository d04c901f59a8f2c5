// Package starknet implements the chain.Client interface over the
// Starknet JSON-RPC API. Transaction assembly and signing are delegated
// to a Builder, so this package never touches curve math or fee
// estimation.
package starknet

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/keeperhq/recoveryd/internal/chain"
	"github.com/keeperhq/recoveryd/internal/pkg/transport/jsonrpc"
	"github.com/keeperhq/recoveryd/internal/pkg/types"
)

const (
	// defaultFeeToken is the canonical ETH fee token contract.
	defaultFeeToken = types.Hex("0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7")

	// balanceOfSelector is sn_keccak("balanceOf").
	balanceOfSelector = types.Hex("0x02e4263afad30923c891518314c3c95dbe830a16874e8abc5777a9a20b54c76e")
)

// Starknet JSON-RPC error codes this package reacts to.
const (
	codeContractNotFound  = 20
	codeTxnHashNotFound   = 29
	codeInsufficientFee   = 53
	codeInsufficientFunds = 54
	codeValidationFailure = 55
	codeNonAccount        = 58
	codeDuplicateTxn      = 59
	codeUnsupportedTxn    = 61
)

// rejectionCodes are endpoint verdicts that re-submitting the same
// payload cannot fix.
var rejectionCodes = types.NewSet(
	codeInsufficientFee,
	codeInsufficientFunds,
	codeValidationFailure,
	codeNonAccount,
	codeDuplicateTxn,
	codeUnsupportedTxn,
)

// Builder assembles and signs raw transactions for submission. The
// signing key passed in the request must not be retained.
type Builder interface {
	// Deploy builds a signed DEPLOY_ACCOUNT transaction payload.
	Deploy(ctx context.Context, req chain.DeployRequest) (json.RawMessage, error)

	// Transfer builds a signed INVOKE transaction payload moving
	// req.Amount of the fee token.
	Transfer(ctx context.Context, req chain.TransferRequest) (json.RawMessage, error)
}

type client struct {
	conn     jsonrpc.Client
	builder  Builder
	feeToken types.Hex
}

var _ chain.Client = (*client)(nil)

// Option adjusts client construction.
type Option func(*client)

// WithFeeToken overrides the balance token contract. Default: the
// canonical ETH token.
func WithFeeToken(token types.Hex) Option {
	return func(c *client) {
		c.feeToken = token
	}
}

// NewClient builds a chain.Client speaking to one Starknet endpoint
// through conn.
func NewClient(conn jsonrpc.Client, builder Builder, opts ...Option) *client {
	c := &client{
		conn:     conn,
		builder:  builder,
		feeToken: defaultFeeToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) BlockNumber(ctx context.Context) (uint64, error) {
	data, err := c.conn.Call(ctx, "starknet_blockNumber", nil)
	if err != nil {
		return 0, err
	}

	var blockNumber uint64
	return blockNumber, json.Unmarshal(data, &blockNumber)
}

// callRequest is the FUNCTION_CALL object of the Starknet API.
type callRequest struct {
	ContractAddress    types.Hex   `json:"contract_address"`
	EntryPointSelector types.Hex   `json:"entry_point_selector"`
	Calldata           []types.Hex `json:"calldata"`
}

func (c *client) Call(ctx context.Context, call chain.ContractCall) ([]types.Hex, error) {
	req := callRequest{
		ContractAddress:    call.Contract,
		EntryPointSelector: call.EntryPoint,
		Calldata:           call.Calldata,
	}
	if req.Calldata == nil {
		req.Calldata = []types.Hex{}
	}

	data, err := c.conn.Call(ctx, "starknet_call", []any{req, "latest"})
	if err != nil {
		return nil, err
	}

	var result []types.Hex
	return result, json.Unmarshal(data, &result)
}

// Balance reads the fee token balance of address. The token returns a
// uint256 split into two felts, low first.
func (c *client) Balance(ctx context.Context, address string) (types.Amount, error) {
	account, err := types.HexFromString(address)
	if err != nil {
		return types.Amount{}, err
	}

	words, err := c.Call(ctx, chain.ContractCall{
		Contract:   c.feeToken,
		EntryPoint: balanceOfSelector,
		Calldata:   []types.Hex{account},
	})
	if err != nil {
		return types.Amount{}, err
	}
	if len(words) != 2 {
		return types.Amount{}, fmt.Errorf("balanceOf returned %d felts, want 2", len(words))
	}

	wei := new(big.Int).Lsh(words[1].BigInt(), 128)
	wei.Add(wei, words[0].BigInt())
	return types.AmountFromWei(wei), nil
}

// DeploymentStatus checks whether the account contract exists. The
// endpoint answers "Contract not found" for undeployed accounts.
func (c *client) DeploymentStatus(ctx context.Context, address string) (bool, error) {
	account, err := types.HexFromString(address)
	if err != nil {
		return false, err
	}

	data, err := c.conn.Call(ctx, "starknet_getClassHashAt", []any{"latest", account})
	if err != nil {
		if code, ok := jsonrpc.ErrorCode(err); ok && code == codeContractNotFound {
			return false, nil
		}
		return false, err
	}

	var classHash types.Hex
	if err := json.Unmarshal(data, &classHash); err != nil {
		return false, err
	}
	return !classHash.IsZero(), nil
}

// submitResponse is the reply of the write API endpoints.
type submitResponse struct {
	TransactionHash types.Hex `json:"transaction_hash"`
}

func (c *client) SubmitDeploy(ctx context.Context, req chain.DeployRequest) (chain.TxHandle, error) {
	payload, err := c.builder.Deploy(ctx, req)
	if err != nil {
		return "", err
	}
	return c.submit(ctx, "starknet_addDeployAccountTransaction", payload)
}

func (c *client) SubmitTransfer(ctx context.Context, req chain.TransferRequest) (chain.TxHandle, error) {
	payload, err := c.builder.Transfer(ctx, req)
	if err != nil {
		return "", err
	}
	return c.submit(ctx, "starknet_addInvokeTransaction", payload)
}

func (c *client) submit(ctx context.Context, method string, payload json.RawMessage) (chain.TxHandle, error) {
	data, err := c.conn.Call(ctx, method, []any{payload})
	if err != nil {
		if code, ok := jsonrpc.ErrorCode(err); ok && rejectionCodes.Has(code) {
			return "", fmt.Errorf("%w: %v", chain.ErrRejected, err)
		}
		return "", err
	}

	var res submitResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return "", err
	}
	return chain.TxHandle(res.TransactionHash), nil
}

// statusResponse is the reply of starknet_getTransactionStatus.
type statusResponse struct {
	FinalityStatus  string `json:"finality_status"`
	ExecutionStatus string `json:"execution_status"`
}

func (c *client) TransactionStatus(ctx context.Context, handle chain.TxHandle) (chain.TxStatus, error) {
	data, err := c.conn.Call(ctx, "starknet_getTransactionStatus", []any{string(handle)})
	if err != nil {
		// A freshly submitted transaction may not be indexed yet.
		if code, ok := jsonrpc.ErrorCode(err); ok && code == codeTxnHashNotFound {
			return chain.TxStatusPending, nil
		}
		return chain.TxStatusUnknown, err
	}

	var res statusResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return chain.TxStatusUnknown, err
	}

	switch res.FinalityStatus {
	case "REJECTED":
		return chain.TxStatusFailed, nil
	case "RECEIVED":
		return chain.TxStatusPending, nil
	case "ACCEPTED_ON_L2", "ACCEPTED_ON_L1":
		if res.ExecutionStatus == "REVERTED" {
			return chain.TxStatusFailed, nil
		}
		return chain.TxStatusConfirmed, nil
	default:
		return chain.TxStatusUnknown, nil
	}
}
