package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/rancher/autofix/internal/branch"
	"github.com/rancher/autofix/internal/fixer"
	"github.com/rancher/autofix/internal/git"
)

const (
	defaultReposDir        = "repos"
	defaultRemote          = "origin"
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultGitUserName     = "Rancher Autofix Bot"
	defaultGitUserEmail    = "no-reply@rancher.com"
	defaultRollbackTimeout = time.Minute
)

var supportedLogFormats = map[string]struct{}{
	"text": {},
	"json": {},
}

// Config captures runtime options sourced from environment variables.
type Config struct {
	ReposDir        string        `env:"AUTOFIX_REPOS_DIR"`
	Branch          string        `env:"AUTOFIX_BRANCH"`
	CommitMessage   string        `env:"AUTOFIX_COMMIT_MESSAGE"`
	Remote          string        `env:"AUTOFIX_REMOTE"`
	CredentialHosts []string      `env:"AUTOFIX_CREDENTIAL_HOSTS"`
	GitUserName     string        `env:"AUTOFIX_GIT_USER_NAME"`
	GitUserEmail    string        `env:"AUTOFIX_GIT_USER_EMAIL"`
	DryRun          bool          `env:"AUTOFIX_DRY_RUN,default=false"`
	OpenPullRequest bool          `env:"AUTOFIX_OPEN_PULL_REQUEST,default=false"`
	NetworkTimeout  time.Duration `env:"AUTOFIX_NETWORK_TIMEOUT,default=0s"`
	NetworkRetries  int           `env:"AUTOFIX_NETWORK_RETRIES,default=0"`
	RollbackTimeout time.Duration `env:"AUTOFIX_ROLLBACK_TIMEOUT,default=1m"`
	MetricsFile     string        `env:"AUTOFIX_METRICS_FILE"`

	GitHubToken     string `env:"GITHUB_TOKEN"`
	GitHubBaseURL   string `env:"GITHUB_BASE_URL"`
	GitHubUploadURL string `env:"GITHUB_UPLOAD_URL"`

	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `env:"ANTHROPIC_MODEL"`

	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`
	Verbose   bool   `env:"VERBOSE,default=false"`
}

// LoadConfig reads the environment, applies defaults, and performs validation.
func LoadConfig(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() error {
	cfg.ReposDir = strings.TrimSpace(cfg.ReposDir)
	cfg.CommitMessage = strings.TrimSpace(cfg.CommitMessage)
	cfg.Remote = strings.TrimSpace(cfg.Remote)
	cfg.GitUserName = strings.TrimSpace(cfg.GitUserName)
	cfg.GitUserEmail = strings.TrimSpace(cfg.GitUserEmail)
	cfg.GitHubToken = strings.TrimSpace(cfg.GitHubToken)
	cfg.GitHubBaseURL = strings.TrimSpace(cfg.GitHubBaseURL)
	cfg.GitHubUploadURL = strings.TrimSpace(cfg.GitHubUploadURL)
	cfg.AnthropicAPIKey = strings.TrimSpace(cfg.AnthropicAPIKey)
	cfg.AnthropicModel = strings.TrimSpace(cfg.AnthropicModel)
	cfg.MetricsFile = strings.TrimSpace(cfg.MetricsFile)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if cfg.ReposDir == "" {
		cfg.ReposDir = defaultReposDir
	}
	if cfg.CommitMessage == "" {
		cfg.CommitMessage = fixer.DefaultCommitMessage
	}
	if cfg.Remote == "" {
		cfg.Remote = defaultRemote
	}
	if cfg.GitUserName == "" {
		cfg.GitUserName = defaultGitUserName
	}
	if cfg.GitUserEmail == "" {
		cfg.GitUserEmail = defaultGitUserEmail
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}
	if cfg.RollbackTimeout <= 0 {
		cfg.RollbackTimeout = defaultRollbackTimeout
	}

	hosts := make([]string, 0, len(cfg.CredentialHosts))
	for _, host := range cfg.CredentialHosts {
		if trimmed := strings.ToLower(strings.TrimSpace(host)); trimmed != "" {
			hosts = append(hosts, trimmed)
		}
	}
	if len(hosts) == 0 {
		hosts = append(hosts, git.DefaultCredentialHosts...)
	}
	cfg.CredentialHosts = hosts

	automation, err := branch.NewAutomation(cfg.Branch)
	if err != nil {
		return fmt.Errorf("invalid AUTOFIX_BRANCH: %w", err)
	}
	cfg.Branch = automation.Name().String()

	if _, ok := supportedLogFormats[cfg.LogFormat]; !ok {
		return fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	if (cfg.GitHubBaseURL == "") != (cfg.GitHubUploadURL == "") {
		return fmt.Errorf("GITHUB_BASE_URL and GITHUB_UPLOAD_URL must both be set for GitHub Enterprise")
	}

	if cfg.OpenPullRequest && cfg.GitHubToken == "" {
		return fmt.Errorf("a github token is required when AUTOFIX_OPEN_PULL_REQUEST is enabled (set GITHUB_TOKEN)")
	}

	if cfg.NetworkRetries < 0 {
		return fmt.Errorf("AUTOFIX_NETWORK_RETRIES must not be negative, got %d", cfg.NetworkRetries)
	}
	if cfg.NetworkTimeout < 0 {
		return fmt.Errorf("AUTOFIX_NETWORK_TIMEOUT must not be negative, got %s", cfg.NetworkTimeout)
	}

	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}

	return nil
}

// Automation returns the automation branch. Branch must already have been
// validated by LoadConfig.
func (cfg Config) Automation() branch.Automation {
	automation, err := branch.NewAutomation(cfg.Branch)
	if err != nil {
		return branch.Automation{}
	}
	return automation
}

// Credential returns the token used for git network calls.
func (cfg Config) Credential() git.Credential {
	return git.Credential(cfg.GitHubToken)
}
