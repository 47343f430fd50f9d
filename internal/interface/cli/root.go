package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hayato-mori/issuepilot/internal/app"
	"github.com/hayato-mori/issuepilot/internal/app/config"
	infraConfig "github.com/hayato-mori/issuepilot/internal/infra/config"
)

// globalConfig holds the loaded configuration for all commands.
var globalConfig config.Config

// globalLog is the process-wide logger, leveled per the configuration.
var globalLog app.Logger = app.NewLogger(os.Stderr, "INFO")

// NewRoot builds the issuepilot command tree.
func NewRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "issuepilot",
		Short:        "Turn labeled GitHub issues into pull requests",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Priority: env > etc/setting.yaml > defaults. The home
			// directory comes from IP_HOME (default .issuepilot).
			cfg, err := infraConfig.Load("")
			if err != nil {
				return err
			}
			globalConfig = cfg
			globalLog = app.NewLogger(os.Stderr, cfg.LogLevel)
			return nil
		},
		RunE: func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newReviewCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newTestCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}
