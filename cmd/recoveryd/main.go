package main

import (
	"context"
	"log"

	"github.com/keeperhq/recoveryd/internal/chain"
	"github.com/keeperhq/recoveryd/internal/config"
	"github.com/keeperhq/recoveryd/internal/handlers/cli"
	"github.com/keeperhq/recoveryd/internal/infra/blockchain/starknet"
	"github.com/keeperhq/recoveryd/internal/infra/bridge/orbiter"
	"github.com/keeperhq/recoveryd/internal/infra/storage/redis"
	"github.com/keeperhq/recoveryd/internal/mission"
	"github.com/keeperhq/recoveryd/internal/pkg/logger"
	"github.com/keeperhq/recoveryd/internal/pkg/telemetry"
	transporthttp "github.com/keeperhq/recoveryd/internal/pkg/transport/http"
	"github.com/keeperhq/recoveryd/internal/pkg/transport/jsonrpc"
	"github.com/keeperhq/recoveryd/internal/providers"
	"github.com/keeperhq/recoveryd/internal/state"
	"github.com/keeperhq/recoveryd/internal/vault"
)

// clientFactory builds one Starknet client per provider, each with its
// own HTTP transport so per-provider timeouts stay isolated.
func clientFactory(cfg config.Config) providers.ClientFactory {
	return func(desc providers.Descriptor) (chain.Client, error) {
		httpClient := transporthttp.NewClient(transporthttp.WithTimeout(desc.Timeout))
		conn := jsonrpc.NewClient(httpClient.StandardClient(), desc.URL)
		builder := starknet.NewRemoteBuilder(transporthttp.NewClient(), cfg.SignerEndpoint)
		return starknet.NewClient(conn, builder), nil
	}
}

func buildRegistry(cfg config.Config) (providers.Registry, error) {
	registry := providers.NewRegistry(clientFactory(cfg), providers.WithProbeFanOut(cfg.ProbeFanOut))

	for i, entry := range cfg.Providers {
		desc, err := providers.NewDescriptor(entry.Name, entry.URL, i+1,
			providers.WithTimeout(cfg.ProviderTimeout),
			providers.WithMaxRetries(cfg.ProviderMaxRetries),
		)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(desc); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	if cfg.TelemetryEnabled {
		shutdown, err := telemetry.Init(ctx, "recoveryd")
		if err != nil {
			log.Fatalf("initializing telemetry: %v", err)
		}
		defer shutdown(context.Background())
	}

	if err := logger.Init(logger.WithLevel(cfg.LogLevel)); err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	registry, err := buildRegistry(cfg)
	if err != nil {
		logger.Fatal(ctx, "building provider registry", "error", err)
	}

	var (
		keyVault = vault.New(cfg.VaultPath)
		store    = state.NewStore(cfg.StatePath)
		gateway  = orbiter.NewGateway(cfg.BridgeMaker, cfg.SourceAddress, []byte(cfg.TransitSigningKey))
	)

	missionOpts := []mission.Option{mission.WithPollInterval(cfg.PollInterval)}
	if cfg.Redis.Enabled() {
		mirror, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Username, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal(ctx, "connecting to redis", "error", err)
		}
		defer mirror.Close()

		missionOpts = append(missionOpts, mission.WithStatusPublisher(mirror))
	}

	orchestrator := mission.New(store, registry, keyVault, gateway, mission.Params{
		SourceAddress:      cfg.SourceAddress,
		DestinationAddress: cfg.DestinationAddress,
		VaultPassword:      cfg.VaultPassword,
		BridgeReserve:      cfg.BridgeReserve,
		MintThreshold:      cfg.MintThreshold,
	}, missionOpts...)

	services := cli.Services{
		Orchestrator:  orchestrator,
		Registry:      registry,
		Vault:         keyVault,
		Store:         store,
		VaultPassword: cfg.VaultPassword,
	}

	if err := cli.Run(ctx, services); err != nil {
		logger.Fatal(ctx, "recoveryd terminated with error", "error", err)
	}
}
