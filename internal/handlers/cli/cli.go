package cli

import (
	"context"
	"os"

	"github.com/keeperhq/recoveryd/internal/mission"
	"github.com/keeperhq/recoveryd/internal/providers"
	"github.com/keeperhq/recoveryd/internal/state"
	"github.com/keeperhq/recoveryd/internal/vault"

	"github.com/urfave/cli/v3"
)

// Services bundles the wired components the CLI commands operate on.
type Services struct {
	Orchestrator mission.Orchestrator
	Registry     providers.Registry
	Vault        vault.Vault
	Store        state.Store

	// VaultPassword is the password from the environment, used by the
	// vault subcommands.
	VaultPassword string
}

// Run initializes and executes the recoveryd CLI application.
//
// It registers all available commands, including:
//
//   - `run`: Runs the recovery mission until it completes or fails.
//   - `status`: Prints the persisted mission state and provider health.
//   - `probe`: Probes every registered provider and prints the results.
//   - `vault`: Manages the encrypted signing key vault.
//
// This function sets up shell completion and invokes the CLI framework to parse and run commands.
func Run(ctx context.Context, svc Services) error {
	app := &cli.Command{
		EnableShellCompletion: true,
		Name:                  "recoveryd",
		Description:           "Command-line interface for driving and inspecting a funds recovery mission.",
		Usage:                 "recoveryd [command] [flags]",
		Commands: []*cli.Command{
			runMissionCommand(svc),
			missionStatusCommand(svc),
			probeProvidersCommand(svc),
			vaultCommand(svc),
		},
	}

	return app.Run(ctx, os.Args)
}
