// Package state persists recovery progress so a mission can be killed
// and resumed at any point without repeating side effects. Every write
// goes through a temp file and an atomic rename.
package state

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/keeperhq/recoveryd/internal/pkg/types"
)

var (
	// ErrCorruptState is returned when a state file exists but cannot be
	// parsed.
	ErrCorruptState = errors.New("corrupt recovery state")
	// ErrInvalidTransition is returned when a phase or bridge status
	// change violates the lifecycle ordering.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrUnknownTransaction is returned when updating a bridge
	// transaction that was never recorded.
	ErrUnknownTransaction = errors.New("unknown bridge transaction")
)

// Phase is a stage of the recovery mission lifecycle.
type Phase string

const (
	PhaseInitializing        Phase = "initializing"
	PhaseSecurityUnlocked    Phase = "security_unlocked"
	PhaseBridgeExecuting     Phase = "bridge_executing"
	PhaseBridgeConfirmed     Phase = "bridge_confirmed"
	PhaseMintWaiting         Phase = "mint_waiting"
	PhaseMintConfirmed       Phase = "mint_confirmed"
	PhaseActivationExecuting Phase = "activation_executing"
	PhaseActivationComplete  Phase = "activation_complete"
	PhaseMissionSuccess      Phase = "mission_success"
	PhaseMissionFailed       Phase = "mission_failed"
)

// phaseSuccessors maps each phase to the phases it may advance to.
// MissionFailed is additionally reachable from every non-terminal
// phase.
var phaseSuccessors = map[Phase][]Phase{
	PhaseInitializing:        {PhaseSecurityUnlocked},
	PhaseSecurityUnlocked:    {PhaseBridgeExecuting},
	PhaseBridgeExecuting:     {PhaseBridgeConfirmed},
	PhaseBridgeConfirmed:     {PhaseMintWaiting},
	PhaseMintWaiting:         {PhaseMintConfirmed},
	PhaseMintConfirmed:       {PhaseActivationExecuting},
	PhaseActivationExecuting: {PhaseActivationComplete},
	PhaseActivationComplete:  {PhaseMissionSuccess},
	PhaseMissionSuccess:      nil,
	PhaseMissionFailed:       nil,
}

// Terminal reports whether the mission is over in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseMissionSuccess || p == PhaseMissionFailed
}

// CanTransition reports whether advancing from p to next is allowed.
func (p Phase) CanTransition(next Phase) bool {
	if next == PhaseMissionFailed {
		return !p.Terminal()
	}
	return slices.Contains(phaseSuccessors[p], next)
}

// BridgeStatus is the lifecycle status of one bridge deposit.
type BridgeStatus string

const (
	BridgeStatusPending   BridgeStatus = "pending"
	BridgeStatusConfirmed BridgeStatus = "confirmed"
	BridgeStatusMinted    BridgeStatus = "minted"
	BridgeStatusFailed    BridgeStatus = "failed"
)

// CanTransition reports whether a bridge transaction may move from s to
// next. Statuses only ever move forward; minted and failed are final.
func (s BridgeStatus) CanTransition(next BridgeStatus) bool {
	switch s {
	case BridgeStatusPending:
		return next == BridgeStatusConfirmed || next == BridgeStatusFailed
	case BridgeStatusConfirmed:
		return next == BridgeStatusMinted || next == BridgeStatusFailed
	default:
		return false
	}
}

// BridgeTransaction records one deposit submitted to the bridge.
type BridgeTransaction struct {
	TxHash      string       `json:"tx_hash"`
	Amount      types.Amount `json:"amount"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	Status      BridgeStatus `json:"status"`
	SubmittedAt time.Time    `json:"submitted_at"`
	BlockNumber *uint64      `json:"block_number,omitempty"`
	MintedAt    *time.Time   `json:"minted_at,omitempty"`
}

// PhaseTransition is one entry of the phase audit trail.
type PhaseTransition struct {
	From   Phase     `json:"from"`
	To     Phase     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// RecoveryState is the full persisted snapshot of one recovery mission.
type RecoveryState struct {
	MissionID          string `json:"mission_id"`
	SourceAddress      string `json:"source_address"`
	DestinationAddress string `json:"destination_address"`

	Phase       Phase             `json:"phase"`
	Transitions []PhaseTransition `json:"transitions"`

	BridgeTransactions     []BridgeTransaction `json:"bridge_transactions"`
	TotalBridged           types.Amount        `json:"total_bridged"`
	LastSourceBalance      types.Amount        `json:"last_source_balance"`
	LastDestinationBalance types.Amount        `json:"last_destination_balance"`

	SecurityUnlocked    bool   `json:"security_unlocked"`
	DestinationDeployed bool   `json:"destination_deployed"`
	MissionActive       bool   `json:"mission_active"`
	FailureReason       string `json:"failure_reason,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	LastUpdate time.Time `json:"last_update"`
}

func newRecoveryState(source, destination string) *RecoveryState {
	now := time.Now().UTC()
	return &RecoveryState{
		MissionID:          uuid.NewString(),
		SourceAddress:      source,
		DestinationAddress: destination,
		Phase:              PhaseInitializing,
		MissionActive:      true,
		CreatedAt:          now,
		LastUpdate:         now,
	}
}

func (s *RecoveryState) clone() *RecoveryState {
	c := *s
	c.Transitions = slices.Clone(s.Transitions)
	c.BridgeTransactions = slices.Clone(s.BridgeTransactions)
	return &c
}

// SetPhase advances the mission to next, recording the transition.
func (s *RecoveryState) SetPhase(next Phase, reason string) error {
	if !s.Phase.CanTransition(next) {
		return fmt.Errorf("%w: phase %s -> %s", ErrInvalidTransition, s.Phase, next)
	}

	s.Transitions = append(s.Transitions, PhaseTransition{
		From:   s.Phase,
		To:     next,
		At:     time.Now().UTC(),
		Reason: reason,
	})
	s.Phase = next
	return nil
}

// AppendBridgeTransaction records a freshly submitted deposit as
// pending and adds its amount to the running bridged total.
func (s *RecoveryState) AppendBridgeTransaction(tx BridgeTransaction) {
	tx.Status = BridgeStatusPending
	if tx.SubmittedAt.IsZero() {
		tx.SubmittedAt = time.Now().UTC()
	}
	s.BridgeTransactions = append(s.BridgeTransactions, tx)
	s.TotalBridged = s.TotalBridged.Add(tx.Amount)
}

// SetBridgeStatus moves a recorded deposit along its lifecycle.
func (s *RecoveryState) SetBridgeStatus(txHash string, next BridgeStatus) error {
	for i := range s.BridgeTransactions {
		tx := &s.BridgeTransactions[i]
		if tx.TxHash != txHash {
			continue
		}

		if !tx.Status.CanTransition(next) {
			return fmt.Errorf("%w: bridge %s -> %s", ErrInvalidTransition, tx.Status, next)
		}
		tx.Status = next
		if next == BridgeStatusMinted {
			now := time.Now().UTC()
			tx.MintedAt = &now
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownTransaction, txHash)
}

// ConfirmedBridgeTransaction returns the first deposit that reached
// confirmed or minted, if any.
func (s *RecoveryState) ConfirmedBridgeTransaction() (BridgeTransaction, bool) {
	for _, tx := range s.BridgeTransactions {
		if tx.Status == BridgeStatusConfirmed || tx.Status == BridgeStatusMinted {
			return tx, true
		}
	}
	return BridgeTransaction{}, false
}

// PendingBridgeTransaction returns the first deposit still pending, if
// any.
func (s *RecoveryState) PendingBridgeTransaction() (BridgeTransaction, bool) {
	for _, tx := range s.BridgeTransactions {
		if tx.Status == BridgeStatusPending {
			return tx, true
		}
	}
	return BridgeTransaction{}, false
}

// SetBalances records the latest observed chain balances.
func (s *RecoveryState) SetBalances(source, destination types.Amount) {
	s.LastSourceBalance = source
	s.LastDestinationBalance = destination
}

// MarkSecurityUnlocked records a successful vault password check.
func (s *RecoveryState) MarkSecurityUnlocked() {
	s.SecurityUnlocked = true
}

// CompleteMission moves the mission to its terminal success phase.
func (s *RecoveryState) CompleteMission() error {
	if err := s.SetPhase(PhaseMissionSuccess, "recovery complete"); err != nil {
		return err
	}
	s.MissionActive = false
	return nil
}

// FailMission moves the mission to its terminal failure phase.
func (s *RecoveryState) FailMission(reason string) error {
	if err := s.SetPhase(PhaseMissionFailed, reason); err != nil {
		return err
	}
	s.MissionActive = false
	s.FailureReason = reason
	return nil
}
