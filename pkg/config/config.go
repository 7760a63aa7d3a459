// Package config loads the digest configuration from YAML, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultLookbackHours = 24
	DefaultStageTimeout  = 5 * time.Minute
	DefaultHTTPTimeout   = 30 * time.Second
	DefaultBotPort       = 8080
	DefaultStaleAfter    = 15 * time.Minute
	DefaultEnvFile       = ".env"
)

// GitHub selects the repositories read by the activity run.
type GitHub struct {
	Org         string   `yaml:"org"`
	Repos       []string `yaml:"repos"`
	AppID       string   `yaml:"app_id"`
	AppKeyPath  string   `yaml:"app_key_path"`
	ExcludeBots bool     `yaml:"exclude_bots"`
	Concurrency int      `yaml:"concurrency"`
	// PRTimeline reads reviews and comments of touched pull requests from their timelines.
	PRTimeline bool `yaml:"pr_timeline"`
}

// Linear selects the ticket tracker team.
type Linear struct {
	TeamID   string `yaml:"team_id"`
	Endpoint string `yaml:"endpoint"`
}

// Notion selects the document database.
type Notion struct {
	DatabaseID string `yaml:"database_id"`
	Label      string `yaml:"label"`
}

// Structurer configures the optional first summarization stage. Either Command or Model is used.
type Structurer struct {
	Command  string `yaml:"command"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
}

// Enabled reports whether a structuring backend is configured.
func (s Structurer) Enabled() bool { return s.Command != "" || s.Model != "" }

// Chat configures the thread-reply API used by the collaborator.
type Chat struct {
	APIURL string `yaml:"api_url"`
}

// Bot configures the collaborator service.
type Bot struct {
	Port       int           `yaml:"port"`
	StaleAfter time.Duration `yaml:"stale_after"`
	// ReportEvery runs the scheduled digest inside the bot; zero leaves scheduling to the CLI.
	ReportEvery time.Duration `yaml:"report_every"`
	// Sprinkler enables live pull request events that mark cached activity stale.
	Sprinkler bool `yaml:"sprinkler"`
}

// Timeouts bound external calls.
type Timeouts struct {
	Stage time.Duration `yaml:"stage"`
	HTTP  time.Duration `yaml:"http"`
}

// Credentials are read only from the environment.
type Credentials struct {
	GitHubToken     string
	GitHubAppKey    string
	LinearAPIKey    string
	NotionAPIKey    string
	StructurerKey   string
	ChatBotToken    string
	ChatSigningKey  string
	WebhookOverride string
}

// Config is the complete runtime configuration.
type Config struct {
	Authors            map[string]string `yaml:"authors"`
	GitHub             GitHub            `yaml:"github"`
	Linear             Linear            `yaml:"linear"`
	Notion             Notion            `yaml:"notion"`
	Structurer         Structurer        `yaml:"structurer"`
	Chat               Chat              `yaml:"chat"`
	Credentials        Credentials       `yaml:"-"`
	TicketPattern      string            `yaml:"ticket_pattern"`
	FormatterCommand   string            `yaml:"formatter_command"`
	ProjectDescription string            `yaml:"project_description"`
	ContextFile        string            `yaml:"context_file"`
	WebhookURL         string            `yaml:"webhook_url"`
	Bot                Bot               `yaml:"bot"`
	Timeouts           Timeouts          `yaml:"timeouts"`
	LookbackHours      int               `yaml:"lookback_hours"`
}

// Load reads the YAML file at path (skipped when path is empty), loads envFile into the
// process environment without overriding existing variables, and applies defaults.
// A missing envFile is not an error.
func Load(path, envFile string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
			slog.Debug("No env file found", "component", "config", "path", envFile)
		}
	}

	c.Credentials = credentialsFromEnv()
	if c.Credentials.WebhookOverride != "" {
		c.WebhookURL = c.Credentials.WebhookOverride
	}
	c.applyDefaults()
	return &c, nil
}

func credentialsFromEnv() Credentials {
	get := func(key string) string { return strings.TrimSpace(os.Getenv(key)) }
	return Credentials{
		GitHubToken:     get("GITHUB_TOKEN"),
		GitHubAppKey:    get("GITHUB_APP_KEY"),
		LinearAPIKey:    get("LINEAR_API_KEY"),
		NotionAPIKey:    get("NOTION_API_KEY"),
		StructurerKey:   get("STRUCTURER_API_KEY"),
		ChatBotToken:    get("CHAT_BOT_TOKEN"),
		ChatSigningKey:  get("CHAT_SIGNING_SECRET"),
		WebhookOverride: get("DIGEST_WEBHOOK_URL"),
	}
}

func (c *Config) applyDefaults() {
	if c.LookbackHours == 0 {
		c.LookbackHours = DefaultLookbackHours
	}
	if c.Timeouts.Stage == 0 {
		c.Timeouts.Stage = DefaultStageTimeout
	}
	if c.Timeouts.HTTP == 0 {
		c.Timeouts.HTTP = DefaultHTTPTimeout
	}
	if c.Bot.Port == 0 {
		c.Bot.Port = DefaultBotPort
	}
	if c.Bot.StaleAfter == 0 {
		c.Bot.StaleAfter = DefaultStaleAfter
	}
}

// Lookback returns the window length.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

// ProjectContext returns the project description, read from ContextFile when one is set.
func (c *Config) ProjectContext() (string, error) {
	if c.ContextFile == "" {
		return strings.TrimSpace(c.ProjectDescription), nil
	}
	b, err := os.ReadFile(c.ContextFile)
	if err != nil {
		return "", fmt.Errorf("read context file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Validate reports every missing field needed for a run. tickets selects the ticket run;
// dryRun lifts the delivery requirement.
func (c *Config) Validate(tickets, dryRun bool) error {
	var errs []error
	missing := func(field string) { errs = append(errs, fmt.Errorf("missing %s", field)) }

	if c.FormatterCommand == "" {
		missing("formatter_command")
	}
	if c.LookbackHours < 0 {
		errs = append(errs, fmt.Errorf("lookback_hours must be positive, got %d", c.LookbackHours))
	}
	if tickets {
		if c.Linear.TeamID == "" {
			missing("linear.team_id")
		}
		if c.Credentials.LinearAPIKey == "" {
			missing("LINEAR_API_KEY")
		}
	} else if c.GitHub.Org == "" && len(c.GitHub.Repos) == 0 {
		missing("github.org or github.repos")
	}
	if c.GitHub.AppID != "" && c.GitHub.AppKeyPath == "" && c.Credentials.GitHubAppKey == "" {
		missing("github.app_key_path or GITHUB_APP_KEY")
	}
	if c.Structurer.Model != "" && c.Structurer.Command == "" && c.Credentials.StructurerKey == "" {
		missing("STRUCTURER_API_KEY")
	}
	if !dryRun && c.WebhookURL == "" {
		missing("webhook_url or DIGEST_WEBHOOK_URL")
	}
	return errors.Join(errs...)
}

// ValidateBot reports every missing field needed by the collaborator service.
func (c *Config) ValidateBot() error {
	var errs []error
	if c.FormatterCommand == "" {
		errs = append(errs, errors.New("missing formatter_command"))
	}
	if c.Credentials.ChatBotToken == "" {
		errs = append(errs, errors.New("missing CHAT_BOT_TOKEN"))
	}
	if c.GitHub.Org == "" && len(c.GitHub.Repos) == 0 {
		errs = append(errs, errors.New("missing github.org or github.repos"))
	}
	if c.Bot.ReportEvery > 0 && c.WebhookURL == "" {
		errs = append(errs, errors.New("missing webhook_url or DIGEST_WEBHOOK_URL for bot.report_every"))
	}
	if c.Bot.Sprinkler && c.GitHub.Org == "" {
		errs = append(errs, errors.New("missing github.org for bot.sprinkler"))
	}
	return errors.Join(errs...)
}
