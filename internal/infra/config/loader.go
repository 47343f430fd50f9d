// Package config loads application settings with the precedence
// defaults < setting.yaml < environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/hayato-mori/issuepilot/internal/app"
	appconfig "github.com/hayato-mori/issuepilot/internal/app/config"
)

// fileSettings mirrors the optional etc/setting.yaml layout. Pointer fields
// distinguish "absent" from zero values so the file only overrides what it
// actually sets.
type fileSettings struct {
	GitHubAuthMode          *string `yaml:"github_auth_mode"`
	GitHubToken             *string `yaml:"github_token"`
	GitHubAppID             *int64  `yaml:"github_app_id"`
	GitHubAppPrivateKeyPath *string `yaml:"github_app_private_key_path"`
	GitHubAppInstallationID *int64  `yaml:"github_app_installation_id"`
	BaseBranch              *string `yaml:"base_branch"`
	TriggerLabel            *string `yaml:"trigger_label"`
	WebhookSecret           *string `yaml:"webhook_secret"`

	LLMProvider *string `yaml:"llm_provider"`
	LLMModel    *string `yaml:"llm_model"`
	LLMAPIKey   *string `yaml:"llm_api_key"`
	LLMBaseURL  *string `yaml:"llm_base_url"`
	LLMReferer  *string `yaml:"llm_referer"`
	LLMTitle    *string `yaml:"llm_title"`

	MaxIterations  *int    `yaml:"max_iterations"`
	ListenAddr     *string `yaml:"listen_addr"`
	LogLevel       *string `yaml:"log_level"`
	HTTPTimeoutSec *int    `yaml:"http_timeout_sec"`
}

// Load resolves the configuration for the given home directory using the
// OS filesystem.
func Load(home string) (appconfig.Config, error) {
	return LoadWithFs(afero.NewOsFs(), home)
}

// LoadWithFs is Load with an injectable filesystem for tests.
func LoadWithFs(fs afero.Fs, home string) (appconfig.Config, error) {
	cfg := appconfig.Default()
	paths := app.ResolvePaths(home)
	cfg.Home = paths.Home

	if err := applyFile(fs, paths.Setting, &cfg); err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyFile(fs afero.Fs, path string, cfg *appconfig.Config) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	var fileCfg fileSettings
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString(&cfg.GitHubAuthMode, fileCfg.GitHubAuthMode)
	setString(&cfg.GitHubToken, fileCfg.GitHubToken)
	setInt64(&cfg.GitHubAppID, fileCfg.GitHubAppID)
	setString(&cfg.GitHubAppPrivateKeyPath, fileCfg.GitHubAppPrivateKeyPath)
	setInt64(&cfg.GitHubAppInstallationID, fileCfg.GitHubAppInstallationID)
	setString(&cfg.BaseBranch, fileCfg.BaseBranch)
	setString(&cfg.TriggerLabel, fileCfg.TriggerLabel)
	setString(&cfg.WebhookSecret, fileCfg.WebhookSecret)
	setString(&cfg.LLMProvider, fileCfg.LLMProvider)
	setString(&cfg.LLMModel, fileCfg.LLMModel)
	setString(&cfg.LLMAPIKey, fileCfg.LLMAPIKey)
	setString(&cfg.LLMBaseURL, fileCfg.LLMBaseURL)
	setString(&cfg.LLMReferer, fileCfg.LLMReferer)
	setString(&cfg.LLMTitle, fileCfg.LLMTitle)
	setInt(&cfg.MaxIterations, fileCfg.MaxIterations)
	setString(&cfg.ListenAddr, fileCfg.ListenAddr)
	setString(&cfg.LogLevel, fileCfg.LogLevel)
	setInt(&cfg.HTTPTimeoutSec, fileCfg.HTTPTimeoutSec)
	cfg.Source = "file"
	return nil
}

func applyEnv(cfg *appconfig.Config) {
	fromEnv := false
	envString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
			fromEnv = true
		}
	}
	envInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
				fromEnv = true
			}
		}
	}

	envInt64 := func(dst *int64, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
				fromEnv = true
			}
		}
	}

	envString(&cfg.GitHubAuthMode, "GITHUB_AUTH_MODE")
	envString(&cfg.GitHubToken, "GITHUB_TOKEN")
	envInt64(&cfg.GitHubAppID, "GITHUB_APP_ID")
	envString(&cfg.GitHubAppPrivateKeyPath, "GITHUB_APP_PRIVATE_KEY_PATH")
	envInt64(&cfg.GitHubAppInstallationID, "GITHUB_APP_INSTALLATION_ID")
	envString(&cfg.BaseBranch, "BASE_BRANCH")
	envString(&cfg.TriggerLabel, "TRIGGER_LABEL")
	envString(&cfg.WebhookSecret, "GITHUB_WEBHOOK_SECRET")
	envString(&cfg.LLMProvider, "LLM_PROVIDER")
	envString(&cfg.LLMModel, "LLM_MODEL")
	envString(&cfg.LLMAPIKey, "OPENAI_API_KEY")
	envString(&cfg.LLMBaseURL, "OPENAI_BASE_URL")
	envString(&cfg.LLMReferer, "OPENROUTER_REFERER")
	envString(&cfg.LLMTitle, "OPENROUTER_TITLE")
	envInt(&cfg.MaxIterations, "MAX_ITERATIONS")
	envString(&cfg.ListenAddr, "LISTEN_ADDR")
	envString(&cfg.LogLevel, "LOG_LEVEL")
	envInt(&cfg.HTTPTimeoutSec, "HTTP_TIMEOUT_SEC")

	if fromEnv {
		cfg.Source = "env"
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setInt64(dst *int64, src *int64) {
	if src != nil {
		*dst = *src
	}
}
