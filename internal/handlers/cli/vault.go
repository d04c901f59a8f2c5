package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// newPasswordEnvVar names the variable carrying the replacement
// password for vault rotation. Passwords never travel as CLI flags.
const newPasswordEnvVar = "RECOVERYD_VAULT_NEW_PASSWORD"

// vaultCommand returns the `vault` command group managing the encrypted
// signing key vault.
//
// Usage examples:
//
//	recoveryd vault init --key-file ./signing.key
//	recoveryd vault verify
//	recoveryd vault rotate
//
// The vault password is read from RECOVERYD_VAULT_PASSWORD; rotation
// additionally reads the new password from RECOVERYD_VAULT_NEW_PASSWORD.
func vaultCommand(svc Services) *cli.Command {
	return &cli.Command{
		Name:        "vault",
		Description: "Manages the encrypted signing key vault.",
		Usage:       "recoveryd vault [subcommand]",
		Commands: []*cli.Command{
			vaultInitCommand(svc),
			vaultVerifyCommand(svc),
			vaultRotateCommand(svc),
		},
	}
}

// vaultInitCommand seals a signing key read from a file into the vault.
func vaultInitCommand(svc Services) *cli.Command {
	return &cli.Command{
		Name:        "init",
		Description: "Encrypts a signing key file into the vault under the configured password.",
		Usage:       "Seals the key. Refuses to overwrite an existing vault.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "key-file",
				Usage:    "Path to the file holding the signing key to seal",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if svc.VaultPassword == "" {
				return errors.New("vault password is not set")
			}

			exists, err := svc.Vault.Exists()
			if err != nil {
				return err
			}
			if exists {
				return errors.New("vault already exists; use `vault rotate` to change its password")
			}

			key, err := os.ReadFile(c.String("key-file"))
			if err != nil {
				return err
			}

			if err := svc.Vault.Encrypt(key, svc.VaultPassword); err != nil {
				return err
			}

			_, err = fmt.Fprintln(os.Stdout, "vault initialized")
			return err
		},
	}
}

// vaultVerifyCommand checks the configured password against the vault.
func vaultVerifyCommand(svc Services) *cli.Command {
	return &cli.Command{
		Name:        "verify",
		Description: "Checks the configured password against the vault without exposing the key.",
		Usage:       "Exits non-zero when the password is wrong.",
		Action: func(ctx context.Context, c *cli.Command) error {
			ok, err := svc.Vault.Verify(svc.VaultPassword)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("vault password rejected")
			}

			_, err = fmt.Fprintln(os.Stdout, "vault password verified")
			return err
		},
	}
}

// vaultRotateCommand re-seals the vault under a new password.
func vaultRotateCommand(svc Services) *cli.Command {
	return &cli.Command{
		Name:        "rotate",
		Description: "Re-encrypts the vault under the password from " + newPasswordEnvVar + ".",
		Usage:       "Rotates the vault password with a fresh salt.",
		Action: func(ctx context.Context, c *cli.Command) error {
			newPassword := os.Getenv(newPasswordEnvVar)
			if newPassword == "" {
				return fmt.Errorf("%s is not set", newPasswordEnvVar)
			}

			if err := svc.Vault.Rotate(svc.VaultPassword, newPassword); err != nil {
				return err
			}

			_, err := fmt.Fprintln(os.Stdout, "vault password rotated")
			return err
		},
	}
}
