package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hayato-mori/issuepilot/internal/adapter/gateway/github"
	"github.com/hayato-mori/issuepilot/internal/adapter/gateway/llm"
)

func newTestCmd() *cobra.Command {
	var repo string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Smoke test GitHub and LLM API access",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := globalConfig
			failed := false

			host, _, err := github.NewFromConfig(cfg, globalLog)
			if err != nil {
				return err
			}
			if canPush, err := host.CanPush(cmd.Context(), repo); err != nil {
				fmt.Printf("GitHub token failed: %v\n", err)
				failed = true
			} else if !canPush {
				fmt.Printf("GitHub token: OK, but no push access to %s\n", repo)
				failed = true
			} else {
				fmt.Println("GitHub token: OK")
			}

			agent, err := llm.NewFromConfig(cfg, globalLog)
			if err != nil {
				return err
			}
			if _, err := agent.Generate(cmd.Context(), "ping", ""); err != nil {
				fmt.Printf("LLM API failed: %v\n", err)
				failed = true
			} else {
				fmt.Println("LLM API: OK")
			}

			if failed {
				return fmt.Errorf("smoke test failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Repository (owner/name)")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}
