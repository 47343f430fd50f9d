package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/hayato-mori/issuepilot/internal/app"
	"github.com/hayato-mori/issuepilot/internal/infra/persistence/state"
)

func newStatusCmd() *cobra.Command {
	var (
		repo        string
		issueNumber int
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted workflow state for an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := app.ResolvePaths(globalConfig.Home)
			store := state.NewStore(afero.NewOsFs(), paths.StateDir)
			st, err := store.Load(repo, issueNumber)
			if err != nil {
				return err
			}
			if st == nil {
				if jsonOutput {
					fmt.Println("null")
					return nil
				}
				fmt.Printf("No workflow state for %s#%d.\n", repo, issueNumber)
				return nil
			}

			if jsonOutput {
				b, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal state: %w", err)
				}
				fmt.Println(string(b))
				return nil
			}

			fmt.Printf("Step      : %s\n", st.Step)
			fmt.Printf("Iteration : %d\n", st.Iteration)
			if st.PRNumber != 0 {
				fmt.Printf("PR        : #%d\n", st.PRNumber)
			}
			if st.Plan != nil {
				fmt.Printf("Plan      : %s\n", st.Plan.Summary)
			}
			fmt.Printf("Feedback  : %d round(s)\n", len(st.FeedbackHistory))
			fmt.Printf("Updated   : %s\n", st.UpdatedAt)
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Repository (owner/name)")
	cmd.Flags().IntVar(&issueNumber, "issue", 0, "Issue number")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output state in JSON format")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("issue")
	return cmd
}
