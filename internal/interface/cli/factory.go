package cli

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/hayato-mori/issuepilot/internal/adapter/gateway/github"
	"github.com/hayato-mori/issuepilot/internal/adapter/gateway/llm"
	"github.com/hayato-mori/issuepilot/internal/app"
	"github.com/hayato-mori/issuepilot/internal/app/config"
	"github.com/hayato-mori/issuepilot/internal/application/port/output"
	"github.com/hayato-mori/issuepilot/internal/application/prompt"
	"github.com/hayato-mori/issuepilot/internal/application/usecase/issue"
	"github.com/hayato-mori/issuepilot/internal/infra/gitops"
	"github.com/hayato-mori/issuepilot/internal/infra/journal"
	"github.com/hayato-mori/issuepilot/internal/infra/persistence/state"
)

// buildProcessor assembles the workflow with its real collaborators.
func buildProcessor(cfg config.Config, log app.Logger) (*issue.Processor, error) {
	if err := cfg.ValidateForRun(); err != nil {
		return nil, err
	}

	paths := app.ResolvePaths(cfg.Home)
	fs := afero.NewOsFs()
	store := state.NewStore(fs, paths.StateDir)
	jw := journal.NewWriter(fs, paths.ErrorLog)

	prompts, err := prompt.NewRenderer(log)
	if err != nil {
		return nil, err
	}
	agent, err := llm.NewFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	host, tokens, err := github.NewFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}

	clone := func(ctx context.Context, repo string) (output.Workspace, error) {
		token, err := tokens(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve git credential: %w", err)
		}
		return gitops.Clone(ctx, "https://github.com/"+repo, cfg.BaseBranch, token, log)
	}

	return issue.NewProcessor(cfg, host, agent, store, jw, clone, prompts, log), nil
}
