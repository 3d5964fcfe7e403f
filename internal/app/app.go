package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/rancher/autofix/internal/analyzer"
	"github.com/rancher/autofix/internal/event"
	"github.com/rancher/autofix/internal/fixer"
	"github.com/rancher/autofix/internal/git"
	gh "github.com/rancher/autofix/internal/github"
	"github.com/rancher/autofix/internal/metrics"
)

// missingFilePlaceholder stands in for the source of a file that does not
// exist yet, so the model can still propose its content.
const missingFilePlaceholder = "# File not found in repository"

// ErrAnalyzerUnavailable is returned by Analyze when no API key is configured.
var ErrAnalyzerUnavailable = errors.New("analyzer unavailable: set ANTHROPIC_API_KEY")

// Analyzer proposes fixes for failing source files.
type Analyzer interface {
	Analyze(ctx context.Context, errorLog, sourceCode, filePath string) (analyzer.Analysis, error)
}

// Runner glues together the fixer and supporting services.
type Runner struct {
	cfg      Config
	log      *slog.Logger
	fixer    *fixer.Fixer
	analyzer Analyzer
	metrics  *metrics.Recorder
}

// NewRunner constructs a Runner with the supplied configuration.
func NewRunner(ctx context.Context, cfg Config) (*Runner, error) {
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	var prs fixer.PullRequestOpener
	if cfg.OpenPullRequest {
		client, err := gh.NewRESTFactory(cfg.GitHubBaseURL, cfg.GitHubUploadURL).New(ctx, cfg.GitHubToken)
		if err != nil {
			return nil, fmt.Errorf("initialize github client: %w", err)
		}
		prs = gh.NewFixPullRequests(client, logger)
	}

	var fixProducer Analyzer
	if cfg.AnthropicAPIKey != "" {
		a, err := analyzer.New(analyzer.Config{
			APIKey:     cfg.AnthropicAPIKey,
			Model:      cfg.AnthropicModel,
			MaxRetries: -1,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize analyzer: %w", err)
		}
		fixProducer = a
	}

	return NewRunnerWithDeps(cfg, logger, buildGitExecutor(cfg), prs, fixProducer), nil
}

// NewRunnerWithDeps constructs a Runner with injected dependencies for testing.
// When cfg.DryRun is set the executor is wrapped so pushes are skipped.
func NewRunnerWithDeps(cfg Config, log *slog.Logger, gitExec git.Executor, prs fixer.PullRequestOpener, fixProducer Analyzer) *Runner {
	if cfg.DryRun {
		gitExec = git.NewDryRunExecutor(gitExec, log)
	}

	recorder := metrics.NewRecorder()
	fixerCfg := fixer.Config{
		Automation:      cfg.Automation(),
		CommitMessage:   cfg.CommitMessage,
		RollbackTimeout: cfg.RollbackTimeout,
		DryRun:          cfg.DryRun,
	}

	return &Runner{
		cfg:      cfg,
		log:      log,
		fixer:    fixer.New(fixerCfg, gitExec, prs, recorder, log),
		analyzer: fixProducer,
		metrics:  recorder,
	}
}

func buildGitExecutor(cfg Config) git.Executor {
	exec := git.NewShellExecutor(cfg.ReposDir)
	exec.RemoteName = cfg.Remote
	exec.CredentialHosts = cfg.CredentialHosts
	exec.UserName = cfg.GitUserName
	exec.UserEmail = cfg.GitUserEmail
	exec.NetworkRetries = cfg.NetworkRetries
	exec.NetworkTimeout = cfg.NetworkTimeout
	return exec
}

// Connect clones or refreshes the working copy for remoteURL.
func (r *Runner) Connect(ctx context.Context, remoteURL, name string) (fixer.Handle, error) {
	return r.fixer.Connect(ctx, remoteURL, name, r.cfg.Credential())
}

// Apply writes fixedCode to filePath in the named working copy and publishes
// it on the automation branch. The result is also written to the GitHub
// Actions outputs and step summary when those are configured.
func (r *Runner) Apply(ctx context.Context, name, filePath, fixedCode string) fixer.Result {
	result := r.fixer.ApplyFixTo(ctx, name, filePath, fixedCode, r.cfg.Credential())

	if err := r.writeStepSummary(name, filePath, result); err != nil && r.log != nil {
		r.log.Warn("failed to write step summary", "error", err)
	}
	if err := r.writeGitHubOutputs(result); err != nil && r.log != nil {
		r.log.Warn("failed to write action outputs", "error", err)
	}
	return result
}

// FileContent is the outcome of Read.
type FileContent struct {
	Path    string `json:"path"`
	Exists  bool   `json:"exists"`
	Content string `json:"content"`
}

// Read returns the content of filePath in the named working copy.
func (r *Runner) Read(ctx context.Context, name, filePath string) (FileContent, error) {
	h, err := r.fixer.HandleFor(name)
	if err != nil {
		return FileContent{}, err
	}
	content, ok, err := r.fixer.ReadFile(ctx, h, filePath)
	if err != nil {
		return FileContent{}, err
	}
	return FileContent{Path: filePath, Exists: ok, Content: content}, nil
}

// Analyze asks the analyzer for a fix to filePath given errorLog.
func (r *Runner) Analyze(ctx context.Context, name, filePath, errorLog string) (analyzer.Analysis, error) {
	if r.analyzer == nil {
		return analyzer.Analysis{}, ErrAnalyzerUnavailable
	}

	file, err := r.Read(ctx, name, filePath)
	if err != nil {
		return analyzer.Analysis{}, err
	}
	source := file.Content
	if !file.Exists {
		source = missingFilePlaceholder
	}

	return r.analyzer.Analyze(ctx, errorLog, source, filePath)
}

// SyncEvent refreshes the working copy named by the push event at eventPath.
// The refresh never uses a credential.
func (r *Runner) SyncEvent(ctx context.Context, eventPath string) (fixer.Handle, error) {
	eventPath = strings.TrimSpace(eventPath)
	if eventPath == "" {
		eventPath = strings.TrimSpace(os.Getenv("GITHUB_EVENT_PATH"))
	}
	if eventPath == "" {
		return fixer.Handle{}, fmt.Errorf("GITHUB_EVENT_PATH is required for push events")
	}

	payload, err := event.ParsePushEventFile(eventPath)
	if err != nil {
		return fixer.Handle{}, fmt.Errorf("parse push event: %w", err)
	}

	if r.log != nil {
		r.log.Info("push event received", "repo", payload.Repository.Name, "ref", payload.Ref, "after", payload.After)
	}

	return r.fixer.Connect(ctx, payload.Repository.CloneURL, payload.Repository.Name, "")
}

// Close flushes metrics to AUTOFIX_METRICS_FILE when configured.
func (r *Runner) Close() error {
	return r.metrics.WriteToTextfile(r.cfg.MetricsFile)
}
