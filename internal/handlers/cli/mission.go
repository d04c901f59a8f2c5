package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/keeperhq/recoveryd/internal/providers"
	"github.com/keeperhq/recoveryd/internal/state"

	"github.com/urfave/cli/v3"
)

// runMissionCommand returns a CLI command that runs the recovery
// mission until it reaches a terminal phase.
//
// Usage example:
//
//	recoveryd run
//
// The mission resumes from persisted state when one exists. The process
// stops gracefully on SIGINT or SIGTERM and can be restarted later
// without repeating completed steps.
func runMissionCommand(svc Services) *cli.Command {
	return &cli.Command{
		Name:        "run",
		Description: "Runs the recovery mission, resuming from persisted state when present.",
		Usage:       "Drives the mission to completion. Terminates gracefully on Ctrl+C or termination signals.",
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return svc.Orchestrator.Run(ctx)
		},
	}
}

// statusReport is the JSON document printed by the status command.
type statusReport struct {
	Mission   *state.RecoveryState        `json:"mission"`
	Providers map[string]providers.Health `json:"providers"`
}

// missionStatusCommand returns a CLI command that prints the persisted
// mission state together with the current provider health snapshot.
//
// Usage example:
//
//	recoveryd status
func missionStatusCommand(svc Services) *cli.Command {
	return &cli.Command{
		Name:        "status",
		Description: "Prints the persisted mission state and the provider health snapshot as JSON.",
		Usage:       "Shows where the mission stands without touching the chain.",
		Action: func(ctx context.Context, c *cli.Command) error {
			st, err := svc.Store.Load()
			if err != nil {
				return err
			}

			report := statusReport{
				Mission:   st,
				Providers: svc.Registry.HealthSnapshot(),
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(os.Stdout, string(out))
			return err
		},
	}
}

// probeProvidersCommand returns a CLI command that probes every enabled
// provider and prints the refreshed health map.
//
// Usage example:
//
//	recoveryd probe
func probeProvidersCommand(svc Services) *cli.Command {
	return &cli.Command{
		Name:        "probe",
		Description: "Probes every enabled RPC provider and prints the refreshed health map as JSON.",
		Usage:       "Runs a liveness check against the provider fleet.",
		Action: func(ctx context.Context, c *cli.Command) error {
			results := svc.Registry.ProbeAll(ctx)

			out, err := json.MarshalIndent(results, "", "  ")
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(os.Stdout, string(out))
			return err
		},
	}
}
