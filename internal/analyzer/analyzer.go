package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-20250514"

	// DefaultMaxTokens bounds the size of a single analysis reply.
	DefaultMaxTokens = 2048
)

// ErrMissingAPIKey is returned by New when no API key is configured.
var ErrMissingAPIKey = errors.New("analyzer: anthropic api key is required")

// Analysis is the fix proposed for a single error log.
type Analysis struct {
	Explanation  string `json:"explanation"`
	SuggestedFix string `json:"suggested_fix"`
	FixedCode    string `json:"fixed_code"`
}

// AnalysisError reports a failed call to the model API.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyze error log: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// Config controls how the Anthropic client is built.
type Config struct {
	APIKey     string
	Model      string
	MaxTokens  int64
	BaseURL    string
	MaxRetries int
}

// Analyzer asks Claude for a fix to a failing source file.
type Analyzer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	log       *slog.Logger
}

// New builds an Analyzer. MaxRetries below zero keeps the SDK default.
func New(cfg Config, logger *slog.Logger) (*Analyzer, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Analyzer{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		log:       logger,
	}, nil
}

// Analyze sends the error log and the related source to the model and
// returns its proposed fix. Replies that are not valid JSON still produce an
// Analysis whose FixedCode is the unchanged source.
func (a *Analyzer) Analyze(ctx context.Context, errorLog, sourceCode, filePath string) (Analysis, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(errorLog, sourceCode, filePath))),
		},
	}

	a.log.Debug("requesting analysis", "model", a.model, "file", filePath)
	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		a.log.Warn("analysis request failed", "model", a.model, "file", filePath, "retryable", isRetryable(err), "error", err)
		return Analysis{}, &AnalysisError{Err: err}
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return Analysis{
			Explanation:  "No text response from the model",
			SuggestedFix: "Unable to get a response from the model",
			FixedCode:    sourceCode,
		}, nil
	}

	analysis := ParseResponse(text, sourceCode)
	a.log.Info("analysis complete", "file", filePath, "input_tokens", message.Usage.InputTokens, "output_tokens", message.Usage.OutputTokens)
	return analysis, nil
}

// ParseResponse decodes a model reply. The reply may wrap the JSON object in
// prose or a code fence; the text from the first '{' to the last '}' is tried
// when the whole reply does not decode.
func ParseResponse(text, sourceCode string) Analysis {
	var analysis Analysis
	if err := json.Unmarshal([]byte(text), &analysis); err == nil {
		return analysis
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		analysis = Analysis{}
		if err := json.Unmarshal([]byte(text[start:end+1]), &analysis); err == nil {
			return analysis
		}
	}

	return Analysis{
		Explanation:  "Could not parse the model response",
		SuggestedFix: text,
		FixedCode:    sourceCode,
	}
}

func buildPrompt(errorLog, sourceCode, filePath string) string {
	var b strings.Builder
	b.WriteString("You are a DevOps assistant. Analyze the following error log and the related source code.\n\n")
	b.WriteString("### ERROR LOG:\n")
	b.WriteString(errorLog)
	fmt.Fprintf(&b, "\n\n### SOURCE CODE (from %s):\n", filePath)
	b.WriteString(sourceCode)
	b.WriteString("\n\nReturn a short explanation of the issue, and a suggested code fix with an explanation.\n\n")
	b.WriteString(`Respond in JSON format:
{
  "explanation": "Brief explanation of what caused the error",
  "suggested_fix": "Description of how to fix it",
  "fixed_code": "The complete corrected code"
}`)
	return b.String()
}

// isRetryable reports rate limiting, overload and transient gateway failures.
func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 503, 504, 529:
			return true
		}
	}
	return false
}
