// Package config defines the explicit configuration value passed into the
// orchestrator's constructors. There is no ambient global; the loader in
// internal/infra/config produces one of these and everything downstream
// receives it by value.
package config

import (
	"fmt"
	"time"
)

// Config holds every runtime setting of issuepilot.
type Config struct {
	// Home is the base directory (IP_HOME, default .issuepilot).
	Home string

	// GitHub. AuthMode selects between a personal access token ("pat") and
	// GitHub App installation tokens ("app").
	GitHubAuthMode          string
	GitHubToken             string
	GitHubAppID             int64
	GitHubAppPrivateKeyPath string
	GitHubAppInstallationID int64
	BaseBranch              string
	TriggerLabel            string
	WebhookSecret           string

	// Inference
	LLMProvider string
	LLMModel    string
	LLMAPIKey   string
	LLMBaseURL  string
	LLMReferer  string
	LLMTitle    string

	// Agent
	MaxIterations  int
	ListenAddr     string
	LogLevel       string
	HTTPTimeoutSec int

	// Source records where the configuration came from: "default", "file",
	// or "env" (the highest-priority layer that contributed).
	Source string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Home:           ".issuepilot",
		GitHubAuthMode: "pat",
		BaseBranch:     "main",
		TriggerLabel:   "ai-agent",
		LLMProvider:    "openai",
		LLMModel:       "gpt-4o-mini",
		LLMBaseURL:     "https://api.openai.com/v1",
		MaxIterations:  5,
		ListenAddr:     ":8080",
		LogLevel:       "INFO",
		HTTPTimeoutSec: 30,
		Source:         "default",
	}
}

// HTTPTimeout returns the network timeout as a Duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

// Validate checks the invariants every command relies on.
func (c Config) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.BaseBranch == "" {
		return fmt.Errorf("base_branch must not be empty")
	}
	if c.GitHubAuthMode != "pat" && c.GitHubAuthMode != "app" {
		return fmt.Errorf("github_auth_mode must be %q or %q, got %q", "pat", "app", c.GitHubAuthMode)
	}
	return nil
}

// ValidateForRun additionally requires the credentials the workflow needs.
func (c Config) ValidateForRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.GitHubAuthMode == "app" {
		if c.GitHubAppID == 0 || c.GitHubAppPrivateKeyPath == "" {
			return fmt.Errorf("GitHub App auth requires GITHUB_APP_ID and GITHUB_APP_PRIVATE_KEY_PATH")
		}
		if c.GitHubAppInstallationID == 0 {
			return fmt.Errorf("GitHub App auth requires GITHUB_APP_INSTALLATION_ID")
		}
	} else if c.GitHubToken == "" {
		return fmt.Errorf("github token is not configured (GITHUB_TOKEN)")
	}
	if c.LLMAPIKey == "" {
		return fmt.Errorf("LLM API key is not configured (OPENAI_API_KEY)")
	}
	return nil
}
