// Package mission drives the recovery lifecycle phase by phase. Every
// phase handler is idempotent against persisted state, so the process
// can be killed and restarted at any point without repeating a deposit
// or a deployment.
package mission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keeperhq/recoveryd/internal/chain"
	"github.com/keeperhq/recoveryd/internal/pkg/logger"
	"github.com/keeperhq/recoveryd/internal/pkg/types"
	"github.com/keeperhq/recoveryd/internal/providers"
	"github.com/keeperhq/recoveryd/internal/state"
	"github.com/keeperhq/recoveryd/internal/vault"
)

var (
	// ErrMissionFailed is returned by Run once the mission reaches its
	// terminal failure phase.
	ErrMissionFailed = errors.New("mission failed")
	// ErrUnrecoverablePhase marks a phase outcome that no amount of
	// retrying can fix, such as an empty source account.
	ErrUnrecoverablePhase = errors.New("unrecoverable phase")
)

// defaultPollInterval paces chain polling and transient-error retries.
const defaultPollInterval = 15 * time.Second

// Params carries the mission-specific inputs the orchestrator needs.
type Params struct {
	// SourceAddress holds the funds on the source chain.
	SourceAddress string
	// DestinationAddress is the account to fund and deploy on the
	// destination chain.
	DestinationAddress string
	// VaultPassword unlocks the signing key vault.
	VaultPassword string
	// BridgeReserve is left behind on the source account to cover fees.
	BridgeReserve types.Amount
	// MintThreshold is the destination balance at which the bridged
	// funds count as minted. When zero, any positive balance counts.
	MintThreshold types.Amount
}

// Orchestrator runs one recovery mission to completion.
type Orchestrator interface {
	// Run advances the mission until it reaches a terminal phase or ctx
	// is canceled. It returns nil on success and ErrMissionFailed when
	// the mission ends in failure.
	Run(ctx context.Context) error
}

type orchestrator struct {
	store     state.Store
	registry  providers.Registry
	vault     vault.Vault
	bridge    chain.BridgeGateway
	publisher StatusPublisher

	params       Params
	pollInterval time.Duration
}

var _ Orchestrator = (*orchestrator)(nil)

// Option adjusts orchestrator construction.
type Option func(*orchestrator)

// WithStatusPublisher mirrors each state change to the given publisher.
func WithStatusPublisher(p StatusPublisher) Option {
	return func(o *orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithPollInterval overrides how often the orchestrator re-polls the
// chain while waiting. Default: 15s.
func WithPollInterval(d time.Duration) Option {
	return func(o *orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// New builds an Orchestrator over the given collaborators.
func New(store state.Store, registry providers.Registry, v vault.Vault, bridge chain.BridgeGateway, params Params, opts ...Option) Orchestrator {
	o := &orchestrator{
		store:        store,
		registry:     registry,
		vault:        v,
		bridge:       bridge,
		publisher:    nopPublisher{},
		params:       params,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *orchestrator) Run(ctx context.Context) error {
	st, err := o.store.Load()
	if err != nil {
		return err
	}
	if st == nil {
		st, err = o.store.Initialize(o.params.SourceAddress, o.params.DestinationAddress)
		if err != nil {
			return err
		}
		logger.Info(ctx, "mission initialized", "mission_id", st.MissionID)
	} else {
		logger.Info(ctx, "mission resumed", "mission_id", st.MissionID, "phase", st.Phase)
	}

	for {
		if st.Phase.Terminal() {
			if st.Phase == state.PhaseMissionFailed {
				return fmt.Errorf("%w: %s", ErrMissionFailed, st.FailureReason)
			}
			logger.Info(ctx, "mission complete", "mission_id", st.MissionID)
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		next, err := o.step(ctx, st)
		if err != nil {
			if o.fatal(err) {
				return err
			}
			logger.Warn(ctx, "phase attempt failed, will retry", "phase", st.Phase, "error", err)
			if err := o.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		if next.Phase == st.Phase && !next.Phase.Terminal() {
			// Still waiting on the chain; pace the next poll.
			st = next
			if err := o.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		logger.Info(ctx, "phase advanced", "from", st.Phase, "to", next.Phase)
		o.publish(ctx, next)
		st = next
	}
}

// step runs the handler for the current phase and returns the resulting
// state.
func (o *orchestrator) step(ctx context.Context, st *state.RecoveryState) (*state.RecoveryState, error) {
	switch st.Phase {
	case state.PhaseInitializing:
		return o.unlockSecurity(ctx)
	case state.PhaseSecurityUnlocked:
		return o.prepareProviders(ctx)
	case state.PhaseBridgeExecuting:
		return o.executeBridge(ctx, st)
	case state.PhaseBridgeConfirmed:
		return o.confirmBridge(ctx, st)
	case state.PhaseMintWaiting:
		return o.awaitMint(ctx, st)
	case state.PhaseMintConfirmed:
		return o.update(func(st *state.RecoveryState) error {
			return st.SetPhase(state.PhaseActivationExecuting, "")
		})
	case state.PhaseActivationExecuting:
		return o.executeActivation(ctx, st)
	case state.PhaseActivationComplete:
		return o.update(func(st *state.RecoveryState) error {
			return st.CompleteMission()
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnrecoverablePhase, st.Phase)
	}
}

// unlockSecurity proves the vault password is correct before anything
// irreversible happens.
func (o *orchestrator) unlockSecurity(ctx context.Context) (*state.RecoveryState, error) {
	ok, err := o.vault.Verify(o.params.VaultPassword)
	if err != nil {
		return nil, err
	}
	if !ok {
		return o.fail(ctx, "vault password rejected")
	}

	return o.update(func(st *state.RecoveryState) error {
		st.MarkSecurityUnlocked()
		return st.SetPhase(state.PhaseSecurityUnlocked, "vault password verified")
	})
}

// prepareProviders probes the fleet so the first real operation starts
// from fresh health scores.
func (o *orchestrator) prepareProviders(ctx context.Context) (*state.RecoveryState, error) {
	o.registry.ProbeAll(ctx)
	if _, err := o.registry.SelectBest(); err != nil {
		return nil, err
	}

	return o.update(func(st *state.RecoveryState) error {
		return st.SetPhase(state.PhaseBridgeExecuting, "providers ready")
	})
}

// executeBridge submits the bridge deposit exactly once. A recorded
// transaction, pending or confirmed, means the deposit already went
// out.
func (o *orchestrator) executeBridge(ctx context.Context, st *state.RecoveryState) (*state.RecoveryState, error) {
	if _, ok := st.ConfirmedBridgeTransaction(); ok {
		return o.update(func(st *state.RecoveryState) error {
			return st.SetPhase(state.PhaseBridgeConfirmed, "deposit already recorded")
		})
	}
	if _, ok := st.PendingBridgeTransaction(); ok {
		return o.update(func(st *state.RecoveryState) error {
			return st.SetPhase(state.PhaseBridgeConfirmed, "deposit already submitted")
		})
	}

	balance, err := o.sourceBalance(ctx)
	if err != nil {
		return nil, err
	}

	amount := balance.Sub(o.params.BridgeReserve)
	if !amount.IsPositive() {
		logger.Error(ctx, "source balance cannot cover the reserve",
			"balance", balance.String(), "reserve", o.params.BridgeReserve.String())
		return o.fail(ctx, "insufficient source balance")
	}

	var handle chain.TxHandle
	err = o.registry.ExecuteWithFailover(ctx, func(ctx context.Context, c chain.Client) error {
		var depositErr error
		handle, depositErr = o.bridge.Deposit(ctx, c, amount, o.params.DestinationAddress)
		return depositErr
	}, providers.Mutating())
	if err != nil {
		if errors.Is(err, chain.ErrRejected) {
			return o.fail(ctx, "bridge deposit rejected")
		}
		return nil, err
	}

	logger.Info(ctx, "bridge deposit submitted", "tx_hash", string(handle), "amount", amount.String())

	return o.update(func(st *state.RecoveryState) error {
		st.SetBalances(balance, st.LastDestinationBalance)
		st.AppendBridgeTransaction(state.BridgeTransaction{
			TxHash: string(handle),
			Amount: amount,
			From:   o.params.SourceAddress,
			To:     o.params.DestinationAddress,
		})
		return st.SetPhase(state.PhaseBridgeConfirmed, "deposit submitted")
	})
}

// confirmBridge reconciles the recorded deposit against the chain.
func (o *orchestrator) confirmBridge(ctx context.Context, st *state.RecoveryState) (*state.RecoveryState, error) {
	if _, ok := st.ConfirmedBridgeTransaction(); ok {
		return o.update(func(st *state.RecoveryState) error {
			return st.SetPhase(state.PhaseMintWaiting, "deposit confirmed")
		})
	}

	tx, ok := st.PendingBridgeTransaction()
	if !ok {
		return nil, fmt.Errorf("%w: no bridge transaction recorded", ErrUnrecoverablePhase)
	}

	var status chain.TxStatus
	err := o.registry.ExecuteWithFailover(ctx, func(ctx context.Context, c chain.Client) error {
		var statusErr error
		status, statusErr = c.TransactionStatus(ctx, chain.TxHandle(tx.TxHash))
		return statusErr
	})
	if err != nil {
		return nil, err
	}

	switch status {
	case chain.TxStatusConfirmed:
		return o.update(func(st *state.RecoveryState) error {
			if err := st.SetBridgeStatus(tx.TxHash, state.BridgeStatusConfirmed); err != nil {
				return err
			}
			return st.SetPhase(state.PhaseMintWaiting, "deposit confirmed")
		})
	case chain.TxStatusFailed:
		if _, err := o.update(func(st *state.RecoveryState) error {
			return st.SetBridgeStatus(tx.TxHash, state.BridgeStatusFailed)
		}); err != nil {
			return nil, err
		}
		return o.fail(ctx, "bridge deposit failed on chain")
	default:
		// Not settled yet; same state, caller paces the next poll.
		return st, nil
	}
}

// awaitMint polls the destination balance until the bridged funds
// arrive.
func (o *orchestrator) awaitMint(ctx context.Context, st *state.RecoveryState) (*state.RecoveryState, error) {
	var balance types.Amount
	err := o.registry.ExecuteWithFailover(ctx, func(ctx context.Context, c chain.Client) error {
		var balanceErr error
		balance, balanceErr = c.Balance(ctx, o.params.DestinationAddress)
		return balanceErr
	})
	if err != nil {
		return nil, err
	}

	threshold := o.params.MintThreshold
	minted := balance.IsPositive()
	if threshold.IsPositive() {
		minted = balance.Cmp(threshold) >= 0
	}

	if !minted {
		logger.Debug(ctx, "destination not funded yet", "balance", balance.String())
		next, err := o.update(func(st *state.RecoveryState) error {
			st.LastDestinationBalance = balance
			return nil
		})
		if err != nil {
			return nil, err
		}
		return next, nil
	}

	return o.update(func(st *state.RecoveryState) error {
		st.LastDestinationBalance = balance
		if tx, ok := st.ConfirmedBridgeTransaction(); ok && tx.Status == state.BridgeStatusConfirmed {
			if err := st.SetBridgeStatus(tx.TxHash, state.BridgeStatusMinted); err != nil {
				return err
			}
		}
		return st.SetPhase(state.PhaseMintConfirmed, "destination funded")
	})
}

// executeActivation deploys the destination account. The deployment
// check runs first, so a resubmission after an ambiguous failure is
// harmless.
func (o *orchestrator) executeActivation(ctx context.Context, st *state.RecoveryState) (*state.RecoveryState, error) {
	var deployed bool
	err := o.registry.ExecuteWithFailover(ctx, func(ctx context.Context, c chain.Client) error {
		var statusErr error
		deployed, statusErr = c.DeploymentStatus(ctx, o.params.DestinationAddress)
		return statusErr
	})
	if err != nil {
		return nil, err
	}

	if deployed {
		return o.update(func(st *state.RecoveryState) error {
			st.DestinationDeployed = true
			return st.SetPhase(state.PhaseActivationComplete, "account deployed")
		})
	}

	key, err := o.vault.Decrypt(o.params.VaultPassword)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	var handle chain.TxHandle
	err = o.registry.ExecuteWithFailover(ctx, func(ctx context.Context, c chain.Client) error {
		var deployErr error
		handle, deployErr = c.SubmitDeploy(ctx, chain.DeployRequest{
			Address:    o.params.DestinationAddress,
			SigningKey: key,
		})
		return deployErr
	}, providers.Mutating())
	if err != nil {
		if errors.Is(err, chain.ErrRejected) {
			return o.fail(ctx, "account deployment rejected")
		}
		return nil, err
	}

	logger.Info(ctx, "account deployment submitted", "tx_hash", string(handle))
	return st, nil
}

func (o *orchestrator) sourceBalance(ctx context.Context) (types.Amount, error) {
	var balance types.Amount
	err := o.registry.ExecuteWithFailover(ctx, func(ctx context.Context, c chain.Client) error {
		var balanceErr error
		balance, balanceErr = c.Balance(ctx, o.params.SourceAddress)
		return balanceErr
	})
	return balance, err
}

// update applies mutate through the store and returns the new snapshot.
func (o *orchestrator) update(mutate func(*state.RecoveryState) error) (*state.RecoveryState, error) {
	return o.store.Update(mutate)
}

// fail moves the mission to its terminal failure phase. The caller's
// loop publishes the final status.
func (o *orchestrator) fail(ctx context.Context, reason string) (*state.RecoveryState, error) {
	logger.Error(ctx, "mission failing", "reason", reason)
	return o.update(func(st *state.RecoveryState) error {
		return st.FailMission(reason)
	})
}

func (o *orchestrator) publish(ctx context.Context, st *state.RecoveryState) {
	if err := o.publisher.PublishStatus(ctx, st); err != nil {
		logger.Warn(ctx, "status publish failed", "error", err)
	}
}

// fatal reports whether err cannot be fixed by retrying the phase.
func (o *orchestrator) fatal(err error) bool {
	return errors.Is(err, ErrUnrecoverablePhase) ||
		errors.Is(err, vault.ErrInvalidPassword) ||
		errors.Is(err, vault.ErrCorruptVault) ||
		errors.Is(err, vault.ErrNotFound) ||
		errors.Is(err, state.ErrInvalidTransition) ||
		errors.Is(err, state.ErrCorruptState)
}

// sleep waits one poll interval, returning early when ctx is canceled.
func (o *orchestrator) sleep(ctx context.Context) error {
	timer := time.NewTimer(o.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
