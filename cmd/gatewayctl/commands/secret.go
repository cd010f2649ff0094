package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xalo2100/alfatechflow-sub001/infrastructure/credentials"
	"github.com/xalo2100/alfatechflow-sub001/internal/application"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Encrypt, decrypt and provision provider credentials",
		Long: `Manage provider credentials in the encrypted store format.
The encryption secret is read from the variable named by
credentials.secret_env (ENCRYPTION_KEY by default).`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "encrypt <plaintext>",
			Short: "Print the encrypted blob for a value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cipher, _, err := secretCipher(cmd)
				if err != nil {
					return err
				}
				blob, err := cipher.Encrypt(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), blob)
				return nil
			},
		},
		&cobra.Command{
			Use:   "decrypt <blob>",
			Short: "Print the plaintext of an encrypted blob",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cipher, _, err := secretCipher(cmd)
				if err != nil {
					return err
				}
				plain, err := cipher.Decrypt(strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), plain)
				return nil
			},
		},
		&cobra.Command{
			Use:   "put <key> <plaintext>",
			Short: "Encrypt a value and write it to the configured credential store",
			Args:  cobra.ExactArgs(2),
			RunE:  runSecretPut,
		},
	)
	return cmd
}

func secretCipher(cmd *cobra.Command) (*credentials.Cipher, application.GatewayConfig, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, cfg, err
	}
	cipher, err := application.NewCipher(cfg.Credentials, os.Getenv(cfg.Credentials.SecretEnv))
	return cipher, cfg, err
}

func runSecretPut(cmd *cobra.Command, args []string) error {
	key, value := strings.TrimSpace(args[0]), args[1]

	cipher, cfg, err := secretCipher(cmd)
	if err != nil {
		return err
	}
	switch cfg.Credentials.Backend {
	case "sql", "keyring":
	default:
		return fmt.Errorf("credential backend %q cannot be provisioned; use sql or keyring", cfg.Credentials.Backend)
	}

	ctx := cmd.Context()
	store, closeStore, err := application.OpenCredentialStore(ctx, cfg.Credentials, os.Getenv(cfg.Credentials.DSNEnv))
	if err != nil {
		return err
	}
	defer closeStore()

	blob, err := cipher.Encrypt(value)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, key, blob); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %s in the %s backend\n", key, cfg.Credentials.Backend)
	return nil
}
