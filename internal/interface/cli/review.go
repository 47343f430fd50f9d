package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReviewCmd() *cobra.Command {
	var (
		repo     string
		prNumber int
	)

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Post a formal CI-aware review on a pull request",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := buildProcessor(globalConfig, globalLog)
			if err != nil {
				return err
			}
			if err := p.ReviewPull(cmd.Context(), repo, prNumber); err != nil {
				return err
			}
			fmt.Println("Review posted.")
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Repository (owner/name)")
	cmd.Flags().IntVar(&prNumber, "pr", 0, "Pull request number")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("pr")
	return cmd
}
