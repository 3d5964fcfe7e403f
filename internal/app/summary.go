package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rancher/autofix/internal/fixer"
)

const shortCommitLength = 12

// writeStepSummary appends a markdown report of result to the file named by
// GITHUB_STEP_SUMMARY. It is a no-op outside of GitHub Actions.
func (r *Runner) writeStepSummary(repo, filePath string, result fixer.Result) error {
	return appendToEnvFile("GITHUB_STEP_SUMMARY", "step summary", func(w io.Writer) error {
		_, err := io.WriteString(w, "## Autofix summary\n\n"+renderResultTable(repo, filePath, result))
		return err
	})
}

// writeGitHubOutputs exposes result as step outputs through GITHUB_OUTPUT.
func (r *Runner) writeGitHubOutputs(result fixer.Result) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal fix_result: %w", err)
	}

	outputs := [][2]string{
		{"success", fmt.Sprint(result.Success)},
		{"branch", result.Branch},
		{"commit", result.Commit},
		{"pull_request_url", result.PullRequestURL},
	}

	return appendToEnvFile("GITHUB_OUTPUT", "github output", func(w io.Writer) error {
		for _, kv := range outputs {
			if kv[1] == "" {
				continue
			}
			if _, err := fmt.Fprintf(w, "%s=%s\n", kv[0], kv[1]); err != nil {
				return fmt.Errorf("write output %s: %w", kv[0], err)
			}
		}
		if _, err := fmt.Fprintf(w, "fix_result<<EOF\n%s\nEOF\n", encoded); err != nil {
			return fmt.Errorf("write output fix_result: %w", err)
		}
		return nil
	})
}

func appendToEnvFile(envVar, what string, write func(io.Writer) error) (err error) {
	path := strings.TrimSpace(os.Getenv(envVar))
	if path == "" {
		return nil
	}

	// The runner normally creates the directory; only warn if we cannot.
	if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
		fmt.Fprintf(os.Stderr, "warning: could not create %s directory: %v\n", what, mkErr)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", what, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", what, closeErr)
		}
	}()

	if err := write(file); err != nil {
		return fmt.Errorf("write %s: %w", what, err)
	}
	return nil
}

func renderResultTable(repo, filePath string, result fixer.Result) string {
	status, details := "failed", result.Error
	if result.Success {
		status, details = "succeeded", result.Message
	}

	pr := "-"
	if result.PullRequestURL != "" {
		pr = "[pull request](" + result.PullRequestURL + ")"
	}

	commit := result.Commit
	if len(commit) > shortCommitLength {
		commit = commit[:shortCommitLength]
	}

	cells := []string{
		sanitizeMarkdownCell(repo),
		sanitizeMarkdownCell(filePath),
		status,
		sanitizeMarkdownCell(result.Branch),
		sanitizeMarkdownCell(commit),
		sanitizeMarkdownCell(details),
		pr,
	}

	var b strings.Builder
	b.WriteString("| Repository | File | Status | Branch | Commit | Details | PR |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(cells)) + "\n")
	b.WriteString("| " + strings.Join(cells, " | ") + " |\n")

	if rollback := result.RollbackFailure(); rollback != nil {
		fmt.Fprintf(&b, "\nRollback was incomplete; working copy left on `%s`.\n", rollback.Restored)
	}
	return b.String()
}

func sanitizeMarkdownCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.NewReplacer("|", "\\|", "\n", "<br>").Replace(value)
}
