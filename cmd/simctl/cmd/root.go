package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"simulate-now/internal/client"
	"simulate-now/internal/config"
)

// RootCmd is the root Cobra command that gets called from the main func.
func RootCmd() *cobra.Command {
	cfg := config.FromEnv()

	cmd := &cobra.Command{
		Use:           "simctl",
		Short:         "simctl submits configuration files to a simulate-now backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("backend", cfg.BackendURL, "Backend base URL.")
	cmd.PersistentFlags().String("api-key", cfg.APIKey, "Shared secret sent as x-api-key (default from APP_API_KEY).")
	cmd.PersistentFlags().Duration("timeout", cfg.BackendTimeout, "Per-request timeout; 0 disables it.")

	cmd.AddCommand(
		submitCmd(),
		statusCmd(),
	)
	return cmd
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	backend, err := cmd.Flags().GetString("backend")
	if err != nil {
		return nil, err
	}
	key, err := cmd.Flags().GetString("api-key")
	if err != nil {
		return nil, err
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, err
	}
	return client.New(backend, key, timeout), nil
}

func pollDefaults() (time.Duration, uint) {
	return 2 * time.Second, 900
}
