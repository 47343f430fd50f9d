package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := globalConfig
			fmt.Printf("Source         : %s\n", cfg.Source)
			fmt.Printf("Home           : %s\n", cfg.Home)
			fmt.Printf("Auth mode      : %s\n", cfg.GitHubAuthMode)
			fmt.Printf("Base branch    : %s\n", cfg.BaseBranch)
			fmt.Printf("Trigger label  : %s\n", cfg.TriggerLabel)
			fmt.Printf("LLM provider   : %s\n", cfg.LLMProvider)
			fmt.Printf("LLM model      : %s\n", cfg.LLMModel)
			fmt.Printf("LLM base URL   : %s\n", cfg.LLMBaseURL)
			fmt.Printf("Max iterations : %d\n", cfg.MaxIterations)
			fmt.Printf("Listen addr    : %s\n", cfg.ListenAddr)
			fmt.Printf("GitHub token   : %s\n", redact(cfg.GitHubToken))
			fmt.Printf("LLM API key    : %s\n", redact(cfg.LLMAPIKey))
			fmt.Printf("Webhook secret : %s\n", redact(cfg.WebhookSecret))
			return nil
		},
	}
}

func redact(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	return "(set)"
}
