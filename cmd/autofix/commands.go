package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rancher/autofix/internal/analyzer"
	"github.com/rancher/autofix/internal/app"
)

// errFixFailed marks an apply whose failure was already reported as JSON.
var errFixFailed = errors.New("fix was not applied")

const defaultErrorLog = "logs/error.log"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "autofix",
		Short:         "Apply generated fixes to git working copies on a dedicated branch",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newConnectCommand(),
		newApplyCommand(),
		newReadCommand(),
		newAnalyzeCommand(),
		newScanCommand(),
		newSyncEventCommand(),
	)
	return root
}

// withRunner loads the configuration, runs fn, and flushes metrics.
func withRunner(cmd *cobra.Command, fn func(r *app.Runner) error) error {
	cfg, err := app.LoadConfig(cmd.Context())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runner, err := app.NewRunner(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}

	runErr := fn(runner)
	if err := runner.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newConnectCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "connect <remote-url>",
		Short: "Clone a repository or refresh an existing working copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *app.Runner) error {
				h, err := r.Connect(cmd.Context(), args[0], name)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), h)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Local working copy name (defaults to the last path segment of the URL)")
	return cmd
}

func newApplyCommand() *cobra.Command {
	var contentFile string

	cmd := &cobra.Command{
		Use:   "apply <name> <file>",
		Short: "Commit new content for a file on the automation branch and push it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(cmd, contentFile)
			if err != nil {
				return err
			}
			return withRunner(cmd, func(r *app.Runner) error {
				result := r.Apply(cmd.Context(), args[0], args[1], string(content))
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				if !result.Success {
					return errFixFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&contentFile, "content-file", "-", "File holding the fixed content ('-' reads stdin)")
	return cmd
}

func newReadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "read <name> <file>",
		Short: "Print a file from a working copy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *app.Runner) error {
				file, err := r.Read(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), file)
			})
		},
	}
}

func newAnalyzeCommand() *cobra.Command {
	var logFile string

	cmd := &cobra.Command{
		Use:   "analyze <name> <file>",
		Short: "Ask the model for a fix to a file given its error log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			errorLog, err := readInput(cmd, logFile)
			if err != nil {
				return err
			}
			return withRunner(cmd, func(r *app.Runner) error {
				analysis, err := r.Analyze(cmd.Context(), args[0], args[1], string(errorLog))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), analysis)
			})
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "-", "File holding the error log ('-' reads stdin)")
	return cmd
}

func newScanCommand() *cobra.Command {
	var logFile string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List the errors found in an application log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(cmd, logFile)
			if err != nil {
				return err
			}
			entries := analyzer.ParseErrorLog(string(content))
			if entries == nil {
				entries = []analyzer.LogEntry{}
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Count  int                 `json:"count"`
				Errors []analyzer.LogEntry `json:"errors"`
			}{Count: len(entries), Errors: entries})
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", defaultErrorLog, "Application log to scan ('-' reads stdin)")
	return cmd
}

func newSyncEventCommand() *cobra.Command {
	var eventPath string

	cmd := &cobra.Command{
		Use:   "sync-event",
		Short: "Refresh the working copy named by a GitHub push event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *app.Runner) error {
				h, err := r.SyncEvent(cmd.Context(), eventPath)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), h)
			})
		},
	}
	cmd.Flags().StringVar(&eventPath, "event-path", "", "Push event payload (defaults to GITHUB_EVENT_PATH)")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
