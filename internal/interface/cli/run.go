package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hayato-mori/issuepilot/internal/app"
)

func newRunCmd() *cobra.Command {
	var (
		repo          string
		issueNumber   int
		maxIterations int
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the workflow for a single issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := globalConfig
			if maxIterations > 0 {
				cfg.MaxIterations = maxIterations
			}
			log := globalLog
			if verbose {
				log = app.NewLogger(os.Stderr, "DEBUG")
			}

			p, err := buildProcessor(cfg, log)
			if err != nil {
				return err
			}
			if p.ProcessIssue(cmd.Context(), repo, issueNumber) {
				fmt.Println("Issue processed successfully.")
				return nil
			}
			return fmt.Errorf("issue processing failed for %s#%d (see %s)",
				repo, issueNumber, app.ResolvePaths(cfg.Home).ErrorLog)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Repository (owner/name)")
	cmd.Flags().IntVar(&issueNumber, "issue", 0, "Issue number")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Override the maximum iteration count")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Verbose output")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("issue")
	return cmd
}
