// Package chain declares the capabilities the recovery core consumes
// from chain infrastructure. Wire formats, ABI encoding, and signing
// schemes belong to the implementations; the core only sees balances,
// statuses, and transaction handles.
package chain

import (
	"context"
	"errors"

	"github.com/keeperhq/recoveryd/internal/pkg/types"
)

// ErrRejected marks a definite, final rejection by the chain (invalid
// signature, class hash mismatch, insufficient funds at execution).
// Implementations wrap terminal submission failures with it so callers
// can distinguish them from transient transport conditions.
var ErrRejected = errors.New("transaction rejected")

// TxHandle identifies a submitted transaction (typically its hash).
type TxHandle string

// TxStatus is the coarse lifecycle status of a submitted transaction.
type TxStatus string

const (
	TxStatusUnknown   TxStatus = "unknown"
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// ContractCall is a read-only contract invocation.
type ContractCall struct {
	Contract   types.Hex   // contract address
	EntryPoint types.Hex   // entry point selector
	Calldata   []types.Hex // raw call arguments
}

// TransferRequest describes a funds transfer to submit. Memo carries
// an optional routing hint in the transaction payload. SigningKey is
// passed through to the implementation's signer and must not be
// retained.
type TransferRequest struct {
	From       string
	To         string
	Amount     types.Amount
	Memo       string
	SigningKey []byte
}

// DeployRequest describes a one-time account deployment. The
// implementation derives the deployment payload from the address and
// signing key.
type DeployRequest struct {
	Address    string
	SigningKey []byte
}

// Client is the chain interaction capability consumed by the provider
// registry and the orchestrator. One Client speaks to one RPC endpoint.
type Client interface {
	// BlockNumber returns the current block height. Used as the
	// liveness probe.
	BlockNumber(ctx context.Context) (uint64, error)

	// Balance returns the fee-token balance of the given address.
	Balance(ctx context.Context, address string) (types.Amount, error)

	// Call performs a read-only contract call.
	Call(ctx context.Context, call ContractCall) ([]types.Hex, error)

	// DeploymentStatus reports whether the account at address has been
	// deployed.
	DeploymentStatus(ctx context.Context, address string) (bool, error)

	// SubmitDeploy submits an account deployment transaction.
	SubmitDeploy(ctx context.Context, req DeployRequest) (TxHandle, error)

	// SubmitTransfer submits a funds transfer.
	SubmitTransfer(ctx context.Context, req TransferRequest) (TxHandle, error)

	// TransactionStatus resolves the status of a submitted transaction.
	TransactionStatus(ctx context.Context, handle TxHandle) (TxStatus, error)
}

// BridgeGateway moves funds from the source chain to the destination
// chain. Deposit locks amount on the source side via the given client
// and credits recipient on the destination side once minted.
type BridgeGateway interface {
	Deposit(ctx context.Context, c Client, amount types.Amount, recipient string) (TxHandle, error)
}
