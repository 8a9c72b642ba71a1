package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/riku-miura/wiki-rag/internal/rag"
)

// OpenAIGenerator implements rag.Generator against the OpenAI chat
// completions API, consuming its server-sent-events delta stream. It is
// safe for concurrent use; each Prompt call owns an independent stream.
type OpenAIGenerator struct {
	// baseURL is the API base (e.g. "https://api.openai.com/v1").
	baseURL string
	// apiKey is the Bearer token.
	apiKey string
	// model is the chat model name (e.g. "gpt-4o-mini").
	model string
	// temperature controls response randomness.
	temperature float32
	// client is the shared HTTP client.
	client *http.Client
	// log receives skipped-frame warnings.
	log *slog.Logger
}

// OpenAIGenConfig holds the settings for constructing an OpenAIGenerator.
type OpenAIGenConfig struct {
	// BaseURL is the API base URL. Defaults to "https://api.openai.com/v1".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the chat model name.
	Model string
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
	// Logger receives skipped-frame warnings. Defaults to slog.Default.
	Logger *slog.Logger
}

// NewOpenAIGenerator constructs an OpenAIGenerator from the given config.
func NewOpenAIGenerator(cfg *OpenAIGenConfig) *OpenAIGenerator {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &OpenAIGenerator{
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: 5 * time.Minute},
		log:         log,
	}
}

// Model returns the generation model identifier.
func (g *OpenAIGenerator) Model() string { return g.model }

// openaiChatRequest is the JSON body sent to /chat/completions.
type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature float32         `json:"temperature"`
}

// openaiMessage is one chat message.
type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openaiChatFrame is one SSE data frame of the delta stream.
type openaiChatFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Prompt sends the question and context to the chat completions API and
// returns the response fragment stream. The context travels in the system
// message together with the grounding instructions; the question is the
// user message.
func (g *OpenAIGenerator) Prompt(ctx context.Context, query, contextText string) rag.Stream {
	body := openaiChatRequest{
		Model: g.model,
		Messages: []openaiMessage{
			{Role: "system", Content: fmt.Sprintf("%s\n\nContext:\n%s", instructions, contextText)},
			{Role: "user", Content: query},
		},
		Stream:      true,
		Temperature: g.temperature,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return newErrorStream(fmt.Sprintf("Error: could not generate a response: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return newErrorStream(fmt.Sprintf("Error: could not generate a response: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Error("openai generator: request failed", slog.Any("error", err))
		return newErrorStream(fmt.Sprintf("Error: could not generate a response: %v", err))
	}
	if resp.StatusCode != http.StatusOK {
		msg := readErrorBody(resp.Body)
		resp.Body.Close()
		g.log.Error("openai generator: backend error",
			slog.Int("status", resp.StatusCode),
			slog.String("body", msg),
		)
		return newErrorStream(fmt.Sprintf("Error: could not generate a response: HTTP %d: %s", resp.StatusCode, msg))
	}

	return &openaiStream{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
		log:     g.log,
	}
}

// openaiStream adapts the SSE response body to the rag.Stream contract.
// It is consumed by a single reader.
type openaiStream struct {
	// body is the HTTP response body, closed when the stream ends.
	body io.ReadCloser
	// scanner reads the SSE stream line by line.
	scanner *bufio.Scanner
	// log receives skipped-frame warnings.
	log *slog.Logger
	// done is true once the stream has ended and body is closed.
	done bool
}

// Recv returns the next text fragment. Non-data lines and malformed data
// frames are skipped; a mid-stream read failure yields one final error
// fragment.
func (s *openaiStream) Recv() (string, bool) {
	if s.done {
		return "", false
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.finish()
			return "", false
		}

		var frame openaiChatFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			s.log.Warn("openai generator: skipping malformed frame",
				slog.String("frame", truncate(data, 200)),
				slog.Any("error", err),
			)
			continue
		}
		if len(frame.Choices) == 0 {
			continue
		}
		if content := frame.Choices[0].Delta.Content; content != "" {
			return content, true
		}
	}

	err := s.scanner.Err()
	s.finish()
	if err != nil {
		s.log.Error("openai generator: stream read failed", slog.Any("error", err))
		return fmt.Sprintf("Error: could not generate a response: %v", err), true
	}
	return "", false
}

// finish marks the stream done and releases the connection.
func (s *openaiStream) finish() {
	if !s.done {
		s.done = true
		_ = s.body.Close()
	}
}
