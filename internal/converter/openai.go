package converter

// openai.go - Chat-completions backed converter. The prompt is fixed and
// the temperature is zero so identical input yields identical output; the
// model only ever sees statements that already passed the safe-rewrite
// pass.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// OpenAIOptions configures the chat-completions converter.
type OpenAIOptions struct {
	// BaseURL defaults to the public OpenAI endpoint.
	BaseURL string
	// Model defaults to gpt-4o.
	Model string
	// APIKeyEnv names the environment variable holding the key; defaults
	// to OPENAI_API_KEY.
	APIKeyEnv string
	// Provider is the target table format (hive, delta, iceberg); it
	// shapes the prompt's upsert guidance.
	Provider string
	// Timeout bounds one HTTP call; defaults to 60s.
	Timeout time.Duration
}

// providerNotes steer the model per target table format.
var providerNotes = map[string]string{
	"hive":    "Use Spark SQL compatible with Hive metastore tables. Prefer INSERT OVERWRITE patterns for upserts.",
	"delta":   "Assume Delta Lake tables are available. You may use MERGE INTO if appropriate.",
	"iceberg": "Assume Apache Iceberg tables are available. You may use MERGE INTO if appropriate.",
}

const systemPrompt = "You are a precise SQL converter. Convert Oracle SQL into executable Spark SQL only. " +
	"Do not output explanations or comments. Keep CTE structure and dependency order. " +
	"No PySpark code, no markdown fences."

// OpenAI converts chunks via the chat-completions API.
type OpenAI struct {
	hc       *http.Client
	url      string
	apiKey   string
	model    string
	provider string
}

// NewOpenAI creates the converter. The API key is read from the configured
// environment variable; a missing key is an error, not a silent no-op.
func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o"
	}
	if opts.APIKeyEnv == "" {
		opts.APIKeyEnv = "OPENAI_API_KEY"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	key := os.Getenv(opts.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("converter: %s is not set", opts.APIKeyEnv)
	}
	return &OpenAI{
		hc:       &http.Client{Timeout: opts.Timeout},
		url:      strings.TrimRight(opts.BaseURL, "/") + "/chat/completions",
		apiKey:   key,
		model:    opts.Model,
		provider: strings.ToLower(opts.Provider),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Convert sends each statement of the chunk for translation. Statements
// are converted one at a time inside the chunk so the per-statement output
// contract holds regardless of model formatting habits.
func (c *OpenAI) Convert(ctx context.Context, req Request) (*Result, error) {
	out := make([]string, len(req.Statements))
	for i, stmt := range req.Statements {
		converted, err := c.convertOne(ctx, stmt)
		if err != nil {
			return nil, fmt.Errorf("chunk %s statement %d: %w", req.ChunkID, i+1, err)
		}
		out[i] = converted
	}
	res := &Result{Statements: out}
	if err := validateShape(req, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *OpenAI) convertOne(ctx context.Context, sql string) (string, error) {
	note, ok := providerNotes[c.provider]
	if !ok {
		note = "Use Spark SQL that runs in spark-sql."
	}
	user := "Constraints:\n" +
		"- Output Spark SQL only.\n" +
		"- Preserve CTEs and statement ordering.\n" +
		"- If Oracle-specific constructs exist (e.g., (+), DECODE, date formats), rewrite them.\n" +
		"- " + note + "\n\n" +
		"Oracle SQL to convert:\n" + sql

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: 0,
		TopP:        1,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return stripCodeFences(parsed.Choices[0].Message.Content), nil
}

// stripCodeFences removes a wrapping markdown fence, including a language
// tag on the opening line, and trims whitespace.
func stripCodeFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.Trim(content, "`")
	if first, rest, found := strings.Cut(content, "\n"); found {
		if tag := strings.TrimSpace(first); tag != "" && !strings.ContainsAny(tag, " \t(") {
			content = rest
		}
	}
	return strings.TrimSpace(content)
}

var _ Converter = (*OpenAI)(nil)
