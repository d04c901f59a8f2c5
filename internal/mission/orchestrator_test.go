package mission

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeperhq/recoveryd/internal/chain"
	"github.com/keeperhq/recoveryd/internal/pkg/types"
	"github.com/keeperhq/recoveryd/internal/providers"
	"github.com/keeperhq/recoveryd/internal/state"
	"github.com/keeperhq/recoveryd/internal/vault"
)

const (
	testSource      = "0x00a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3"
	testDestination = "0x04f39d1f1f0c3b6ef56d168b27ad16cbd55e1473aa7eec5893d28bbcefe52a7a"
	testPassword    = "correct horse"
)

var testKey = []byte("0x0123456789abcdef")

type stubClient struct {
	mu sync.Mutex

	sourceBalance      types.Amount
	destinationBalance types.Amount
	txStatus           chain.TxStatus
	deployed           bool

	deployedKeys [][]byte
}

var _ chain.Client = (*stubClient)(nil)

func (s *stubClient) BlockNumber(ctx context.Context) (uint64, error) {
	return 1534120, nil
}

func (s *stubClient) Balance(ctx context.Context, address string) (types.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if address == testSource {
		return s.sourceBalance, nil
	}
	return s.destinationBalance, nil
}

func (s *stubClient) Call(ctx context.Context, call chain.ContractCall) ([]types.Hex, error) {
	return nil, errors.New("unexpected call: Call")
}

func (s *stubClient) DeploymentStatus(ctx context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deployed, nil
}

func (s *stubClient) SubmitDeploy(ctx context.Context, req chain.DeployRequest) (chain.TxHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deployedKeys = append(s.deployedKeys, slices.Clone(req.SigningKey))
	s.deployed = true
	return "0xdeploy", nil
}

func (s *stubClient) SubmitTransfer(ctx context.Context, req chain.TransferRequest) (chain.TxHandle, error) {
	return "", errors.New("unexpected call: SubmitTransfer")
}

func (s *stubClient) TransactionStatus(ctx context.Context, handle chain.TxHandle) (chain.TxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txStatus, nil
}

type stubGateway struct {
	mu       sync.Mutex
	deposits []types.Amount
	err      error
}

var _ chain.BridgeGateway = (*stubGateway)(nil)

func (g *stubGateway) Deposit(ctx context.Context, c chain.Client, amount types.Amount, recipient string) (chain.TxHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return "", g.err
	}
	g.deposits = append(g.deposits, amount)
	return "0xbridge", nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	phases []state.Phase
}

var _ StatusPublisher = (*recordingPublisher)(nil)

func (p *recordingPublisher) PublishStatus(ctx context.Context, st *state.RecoveryState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.phases = append(p.phases, st.Phase)
	return nil
}

type fixture struct {
	store     state.Store
	registry  providers.Registry
	vault     vault.Vault
	client    *stubClient
	gateway   *stubGateway
	publisher *recordingPublisher
}

func newFixture(t *testing.T, client *stubClient) *fixture {
	t.Helper()

	dir := t.TempDir()

	v := vault.New(filepath.Join(dir, "vault.json"), vault.WithIterations(1_000))
	require.NoError(t, v.Encrypt(testKey, testPassword))

	registry := providers.NewRegistry(func(providers.Descriptor) (chain.Client, error) {
		return client, nil
	})
	desc, err := providers.NewDescriptor("alpha", "http://localhost:9545", 1,
		providers.WithMaxRetries(1), providers.WithTimeout(time.Second))
	require.NoError(t, err)
	require.NoError(t, registry.Register(desc))

	return &fixture{
		store:     state.NewStore(filepath.Join(dir, "state.json")),
		registry:  registry,
		vault:     v,
		client:    client,
		gateway:   &stubGateway{},
		publisher: &recordingPublisher{},
	}
}

func (f *fixture) orchestrator(params Params) Orchestrator {
	return New(f.store, f.registry, f.vault, f.gateway, params,
		WithPollInterval(time.Millisecond),
		WithStatusPublisher(f.publisher),
	)
}

func testParams(t *testing.T) Params {
	t.Helper()

	return Params{
		SourceAddress:      testSource,
		DestinationAddress: testDestination,
		VaultPassword:      testPassword,
		BridgeReserve:      mustAmount(t, "0.001"),
		MintThreshold:      mustAmount(t, "0.01"),
	}
}

func mustAmount(t *testing.T, s string) types.Amount {
	t.Helper()

	a, err := types.ParseAmount(s)
	require.NoError(t, err)
	return a
}

func runWithTimeout(t *testing.T, o Orchestrator) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	return o.Run(ctx)
}

func TestOrchestrator_Run(t *testing.T) {
	t.Run("should drive a fresh mission to success", func(t *testing.T) {
		f := newFixture(t, &stubClient{
			sourceBalance:      mustAmount(t, "0.02"),
			destinationBalance: mustAmount(t, "0.019"),
			txStatus:           chain.TxStatusConfirmed,
		})

		require.NoError(t, runWithTimeout(t, f.orchestrator(testParams(t))))

		st, err := f.store.Load()
		require.NoError(t, err)
		require.NotNil(t, st)

		assert.Equal(t, state.PhaseMissionSuccess, st.Phase)
		assert.False(t, st.MissionActive)
		assert.True(t, st.SecurityUnlocked)
		assert.True(t, st.DestinationDeployed)

		require.Len(t, st.BridgeTransactions, 1)
		tx := st.BridgeTransactions[0]
		assert.Equal(t, "0xbridge", tx.TxHash)
		assert.Equal(t, state.BridgeStatusMinted, tx.Status)
		assert.Zero(t, tx.Amount.Cmp(mustAmount(t, "0.019")))
		assert.Zero(t, st.TotalBridged.Cmp(mustAmount(t, "0.019")))

		require.Len(t, f.gateway.deposits, 1)
		assert.Zero(t, f.gateway.deposits[0].Cmp(mustAmount(t, "0.019")))

		require.Len(t, f.client.deployedKeys, 1)
		assert.Equal(t, testKey, f.client.deployedKeys[0])

		assert.Contains(t, f.publisher.phases, state.PhaseMissionSuccess)
	})

	t.Run("should fail the mission when the balance cannot cover the reserve", func(t *testing.T) {
		f := newFixture(t, &stubClient{
			sourceBalance: mustAmount(t, "0.0005"),
		})

		err := runWithTimeout(t, f.orchestrator(testParams(t)))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissionFailed)

		st, loadErr := f.store.Load()
		require.NoError(t, loadErr)
		assert.Equal(t, state.PhaseMissionFailed, st.Phase)
		assert.Equal(t, "insufficient source balance", st.FailureReason)
		assert.False(t, st.MissionActive)
		assert.Empty(t, f.gateway.deposits)
	})

	t.Run("should never deposit twice when resumed after the deposit", func(t *testing.T) {
		f := newFixture(t, &stubClient{
			destinationBalance: mustAmount(t, "0.019"),
			txStatus:           chain.TxStatusConfirmed,
			deployed:           true,
		})

		_, err := f.store.Initialize(testSource, testDestination)
		require.NoError(t, err)
		_, err = f.store.Update(func(st *state.RecoveryState) error {
			st.MarkSecurityUnlocked()
			if err := st.SetPhase(state.PhaseSecurityUnlocked, ""); err != nil {
				return err
			}
			if err := st.SetPhase(state.PhaseBridgeExecuting, ""); err != nil {
				return err
			}
			st.AppendBridgeTransaction(state.BridgeTransaction{
				TxHash: "0xaaa",
				Amount: mustAmount(t, "0.019"),
				From:   testSource,
				To:     testDestination,
			})
			return st.SetPhase(state.PhaseBridgeConfirmed, "deposit submitted")
		})
		require.NoError(t, err)

		require.NoError(t, runWithTimeout(t, f.orchestrator(testParams(t))))

		st, err := f.store.Load()
		require.NoError(t, err)
		assert.Equal(t, state.PhaseMissionSuccess, st.Phase)
		assert.Empty(t, f.gateway.deposits)
		require.Len(t, st.BridgeTransactions, 1)
		assert.Equal(t, state.BridgeStatusMinted, st.BridgeTransactions[0].Status)
	})

	t.Run("should fail the mission on a wrong vault password", func(t *testing.T) {
		f := newFixture(t, &stubClient{})

		params := testParams(t)
		params.VaultPassword = "nope"

		err := runWithTimeout(t, f.orchestrator(params))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissionFailed)

		st, loadErr := f.store.Load()
		require.NoError(t, loadErr)
		assert.Equal(t, "vault password rejected", st.FailureReason)
		assert.False(t, st.SecurityUnlocked)
	})

	t.Run("should surface a missing vault instead of failing the mission", func(t *testing.T) {
		client := &stubClient{}
		f := newFixture(t, client)
		f.vault = vault.New(filepath.Join(t.TempDir(), "missing.json"))

		err := runWithTimeout(t, f.orchestrator(testParams(t)))
		require.Error(t, err)
		assert.ErrorIs(t, err, vault.ErrNotFound)

		st, loadErr := f.store.Load()
		require.NoError(t, loadErr)
		require.NotNil(t, st)
		assert.Equal(t, state.PhaseInitializing, st.Phase)
	})

	t.Run("should fail the mission when the bridge rejects the deposit", func(t *testing.T) {
		f := newFixture(t, &stubClient{
			sourceBalance: mustAmount(t, "0.02"),
		})
		f.gateway.err = chain.ErrRejected

		err := runWithTimeout(t, f.orchestrator(testParams(t)))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissionFailed)

		st, loadErr := f.store.Load()
		require.NoError(t, loadErr)
		assert.Equal(t, "bridge deposit rejected", st.FailureReason)
	})
}
