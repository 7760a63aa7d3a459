package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"GITHUB_TOKEN", "GITHUB_APP_KEY", "LINEAR_API_KEY", "NOTION_API_KEY", "STRUCTURER_API_KEY", "CHAT_BOT_TOKEN", "CHAT_SIGNING_SECRET", "DIGEST_WEBHOOK_URL"} {
		t.Setenv(key, "")
	}
}

func TestLoad_YAMLAndDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "digest.yaml", `
github:
  org: acme
  repos: [api, acme/web]
  exclude_bots: true
linear:
  team_id: team-1
authors:
  alice: Alice Liddell
ticket_pattern: "ENG-\\d+"
formatter_command: "llm -m big"
structurer:
  model: small
webhook_url: https://hooks.test/abc
timeouts:
  stage: 2m
bot:
  stale_after: 1h
`)
	c, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "acme", c.GitHub.Org)
	assert.Equal(t, []string{"api", "acme/web"}, c.GitHub.Repos)
	assert.True(t, c.GitHub.ExcludeBots)
	assert.Equal(t, "Alice Liddell", c.Authors["alice"])
	assert.Equal(t, `ENG-\d+`, c.TicketPattern)
	assert.Equal(t, 24*time.Hour, c.Lookback())
	assert.Equal(t, 2*time.Minute, c.Timeouts.Stage)
	assert.Equal(t, DefaultHTTPTimeout, c.Timeouts.HTTP)
	assert.Equal(t, time.Hour, c.Bot.StaleAfter)
	assert.Equal(t, DefaultBotPort, c.Bot.Port)
	assert.True(t, c.Structurer.Enabled())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "github: [unclosed"), "")
	assert.Error(t, err)
}

func TestLoad_EnvFileAndOverride(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides a variable that is already present, even when empty.
	for _, key := range []string{"LINEAR_API_KEY", "DIGEST_WEBHOOK_URL"} {
		require.NoError(t, os.Unsetenv(key))
	}
	t.Cleanup(func() {
		os.Unsetenv("LINEAR_API_KEY")     //nolint:errcheck // test cleanup
		os.Unsetenv("DIGEST_WEBHOOK_URL") //nolint:errcheck // test cleanup
	})
	envFile := writeFile(t, ".env", "LINEAR_API_KEY=lin_from_file\nDIGEST_WEBHOOK_URL=https://hooks.test/env\n")

	c, err := Load(writeFile(t, "c.yaml", "webhook_url: https://hooks.test/yaml\n"), envFile)
	require.NoError(t, err)
	assert.Equal(t, "lin_from_file", c.Credentials.LinearAPIKey)
	assert.Equal(t, "https://hooks.test/env", c.WebhookURL)
}

func TestLoad_MissingEnvFileIgnored(t *testing.T) {
	clearEnv(t)
	c, err := Load("", filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	assert.Equal(t, DefaultLookbackHours, c.LookbackHours)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{
			GitHub:           GitHub{Org: "acme"},
			FormatterCommand: "llm",
			WebhookURL:       "https://hooks.test",
		}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		tickets bool
		dryRun  bool
		wantErr string
	}{
		{name: "complete", mutate: func(*Config) {}},
		{name: "no formatter", mutate: func(c *Config) { c.FormatterCommand = "" }, wantErr: "formatter_command"},
		{name: "no repositories", mutate: func(c *Config) { c.GitHub.Org = "" }, wantErr: "github.org"},
		{name: "no webhook", mutate: func(c *Config) { c.WebhookURL = "" }, wantErr: "webhook_url"},
		{name: "no webhook in dry run", mutate: func(c *Config) { c.WebhookURL = "" }, dryRun: true},
		{name: "tickets without team", mutate: func(*Config) {}, tickets: true, wantErr: "linear.team_id"},
		{
			name: "tickets complete",
			mutate: func(c *Config) {
				c.GitHub.Org = ""
				c.Linear.TeamID = "t"
				c.Credentials.LinearAPIKey = "k"
			},
			tickets: true,
		},
		{name: "structurer model without key", mutate: func(c *Config) { c.Structurer.Model = "m" }, wantErr: "STRUCTURER_API_KEY"},
		{name: "app without key", mutate: func(c *Config) { c.GitHub.AppID = "123" }, wantErr: "app_key_path"},
		{name: "negative lookback", mutate: func(c *Config) { c.LookbackHours = -1 }, wantErr: "lookback_hours"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate(tt.tickets, tt.dryRun)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProjectContext(t *testing.T) {
	c := &Config{ProjectDescription: "  inline  "}
	got, err := c.ProjectContext()
	require.NoError(t, err)
	assert.Equal(t, "inline", got)

	c.ContextFile = writeFile(t, "ctx.md", "From file\n")
	got, err = c.ProjectContext()
	require.NoError(t, err)
	assert.Equal(t, "From file", got)

	c.ContextFile = filepath.Join(t.TempDir(), "missing.md")
	_, err = c.ProjectContext()
	assert.Error(t, err)
}

func TestValidateBot(t *testing.T) {
	c := &Config{GitHub: GitHub{Repos: []string{"acme/api"}}, FormatterCommand: "llm"}
	err := c.ValidateBot()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAT_BOT_TOKEN")

	c.Credentials.ChatBotToken = "xoxb"
	assert.NoError(t, c.ValidateBot())
}
