package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable the loader reads so tests see only what
// they set themselves.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GITHUB_AUTH_MODE", "GITHUB_TOKEN", "GITHUB_APP_ID",
		"GITHUB_APP_PRIVATE_KEY_PATH", "GITHUB_APP_INSTALLATION_ID",
		"BASE_BRANCH", "TRIGGER_LABEL", "GITHUB_WEBHOOK_SECRET",
		"LLM_PROVIDER", "LLM_MODEL", "OPENAI_API_KEY", "OPENAI_BASE_URL",
		"OPENROUTER_REFERER", "OPENROUTER_TITLE", "MAX_ITERATIONS",
		"LISTEN_ADDR", "LOG_LEVEL", "HTTP_TIMEOUT_SEC",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	fs := afero.NewMemMapFs()

	cfg, err := LoadWithFs(fs, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "main", cfg.BaseBranch)
	assert.Equal(t, "ai-agent", cfg.TriggerLabel)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, 5, cfg.MaxIterations)
	assert.Equal(t, "default", cfg.Source)
}

func TestLoadFromSettingFile(t *testing.T) {
	clearEnv(t)
	fs := afero.NewMemMapFs()
	home := "/tmp/iphome"
	setting := []byte(`
base_branch: develop
max_iterations: 2
llm_model: gpt-4o
trigger_label: bot
`)
	require.NoError(t, afero.WriteFile(fs, home+"/etc/setting.yaml", setting, 0o644))

	cfg, err := LoadWithFs(fs, home)
	require.NoError(t, err)

	assert.Equal(t, "develop", cfg.BaseBranch)
	assert.Equal(t, 2, cfg.MaxIterations)
	assert.Equal(t, "gpt-4o", cfg.LLMModel)
	assert.Equal(t, "bot", cfg.TriggerLabel)
	// Untouched keys keep their defaults.
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, "file", cfg.Source)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	fs := afero.NewMemMapFs()
	home := "/tmp/iphome"
	require.NoError(t, afero.WriteFile(fs, home+"/etc/setting.yaml",
		[]byte("base_branch: develop\n"), 0o644))

	t.Setenv("BASE_BRANCH", "release")
	t.Setenv("MAX_ITERATIONS", "7")

	cfg, err := LoadWithFs(fs, home)
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.BaseBranch)
	assert.Equal(t, 7, cfg.MaxIterations)
	assert.Equal(t, "env", cfg.Source)
}

func TestLoadGitHubAppSettings(t *testing.T) {
	clearEnv(t)
	fs := afero.NewMemMapFs()
	home := "/tmp/iphome"
	setting := []byte(`
github_auth_mode: app
github_app_id: 12345
github_app_private_key_path: /etc/keys/app.pem
`)
	require.NoError(t, afero.WriteFile(fs, home+"/etc/setting.yaml", setting, 0o644))

	t.Setenv("GITHUB_APP_INSTALLATION_ID", "67890")

	cfg, err := LoadWithFs(fs, home)
	require.NoError(t, err)

	assert.Equal(t, "app", cfg.GitHubAuthMode)
	assert.Equal(t, int64(12345), cfg.GitHubAppID)
	assert.Equal(t, "/etc/keys/app.pem", cfg.GitHubAppPrivateKeyPath)
	assert.Equal(t, int64(67890), cfg.GitHubAppInstallationID)
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	home := "/tmp/iphome"
	require.NoError(t, afero.WriteFile(fs, home+"/etc/setting.yaml",
		[]byte("base_branch: [unclosed"), 0o644))

	_, err := LoadWithFs(fs, home)
	assert.Error(t, err)
}
