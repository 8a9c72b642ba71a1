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
	"time"

	"github.com/riku-miura/wiki-rag/internal/rag"
)

// OllamaGenerator implements rag.Generator against the Ollama /api/generate
// endpoint, consuming its newline-delimited JSON token stream. It is safe
// for concurrent use; each Prompt call owns an independent stream.
type OllamaGenerator struct {
	// host is the Ollama server base URL (e.g. "http://localhost:11434").
	host string
	// model is the generation model name (e.g. "llama3.2:3b-instruct").
	model string
	// temperature controls response randomness.
	temperature float32
	// client is the shared HTTP client. The generous timeout covers full
	// response generation, not just connection establishment.
	client *http.Client
	// log receives skipped-frame warnings.
	log *slog.Logger
}

// OllamaGenConfig holds the settings for constructing an OllamaGenerator.
type OllamaGenConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the generation model name.
	Model string
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
	// Logger receives skipped-frame warnings. Defaults to slog.Default.
	Logger *slog.Logger
}

// NewOllamaGenerator constructs an OllamaGenerator from the given config.
func NewOllamaGenerator(cfg *OllamaGenConfig) *OllamaGenerator {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &OllamaGenerator{
		host:        cfg.Host,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: 5 * time.Minute},
		log:         log,
	}
}

// Model returns the generation model identifier.
func (g *OllamaGenerator) Model() string { return g.model }

// ollamaGenRequest is the JSON body sent to the /api/generate endpoint.
type ollamaGenRequest struct {
	Model   string           `json:"model"`
	Prompt  string           `json:"prompt"`
	Stream  bool             `json:"stream"`
	Options ollamaGenOptions `json:"options"`
}

// ollamaGenOptions carries model sampling parameters.
type ollamaGenOptions struct {
	Temperature float32 `json:"temperature"`
}

// ollamaGenFrame is one newline-delimited JSON frame of the token stream.
type ollamaGenFrame struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Prompt sends the question and context to Ollama and returns the response
// fragment stream. Connection and protocol-level failures never escape as
// errors: they become a single terminal error fragment.
func (g *OllamaGenerator) Prompt(ctx context.Context, query, contextText string) rag.Stream {
	body := ollamaGenRequest{
		Model:   g.model,
		Prompt:  buildPrompt(query, contextText),
		Stream:  true,
		Options: ollamaGenOptions{Temperature: g.temperature},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return newErrorStream(fmt.Sprintf("Error: could not generate a response: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return newErrorStream(fmt.Sprintf("Error: could not generate a response: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Error("ollama generator: request failed", slog.Any("error", err))
		return newErrorStream(fmt.Sprintf("Error: could not generate a response: %v", err))
	}
	if resp.StatusCode != http.StatusOK {
		msg := readErrorBody(resp.Body)
		resp.Body.Close()
		g.log.Error("ollama generator: backend error",
			slog.Int("status", resp.StatusCode),
			slog.String("body", msg),
		)
		return newErrorStream(fmt.Sprintf("Error: could not generate a response: HTTP %d: %s", resp.StatusCode, msg))
	}

	return &ollamaStream{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
		log:     g.log,
	}
}

// Ping checks that the Ollama server is reachable by listing installed
// models. It never consumes generation tokens.
func (g *OllamaGenerator) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama generator: create ping request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama generator: ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama generator: ping: HTTP %d", resp.StatusCode)
	}
	return nil
}

// ollamaStream adapts the NDJSON response body to the rag.Stream contract.
// It is consumed by a single reader.
type ollamaStream struct {
	// body is the HTTP response body, closed when the stream ends.
	body io.ReadCloser
	// scanner reads one JSON frame per line.
	scanner *bufio.Scanner
	// log receives skipped-frame warnings.
	log *slog.Logger
	// done is true once the stream has ended and body is closed.
	done bool
}

// Recv returns the next text fragment. Malformed frames are logged and
// skipped; a mid-stream read failure yields one final error fragment.
func (s *ollamaStream) Recv() (string, bool) {
	if s.done {
		return "", false
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var frame ollamaGenFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			s.log.Warn("ollama generator: skipping malformed frame",
				slog.String("frame", truncate(string(line), 200)),
				slog.Any("error", err),
			)
			continue
		}

		if frame.Error != "" {
			s.finish()
			return fmt.Sprintf("Error: could not generate a response: %s", frame.Error), true
		}
		if frame.Done {
			s.finish()
			if frame.Response != "" {
				return frame.Response, true
			}
			return "", false
		}
		if frame.Response == "" {
			continue
		}
		return frame.Response, true
	}

	err := s.scanner.Err()
	s.finish()
	if err != nil {
		s.log.Error("ollama generator: stream read failed", slog.Any("error", err))
		return fmt.Sprintf("Error: could not generate a response: %v", err), true
	}
	return "", false
}

// finish marks the stream done and releases the connection.
func (s *ollamaStream) finish() {
	if !s.done {
		s.done = true
		_ = s.body.Close()
	}
}

// readErrorBody extracts a short error description from a non-200 response.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return "no error detail"
	}
	var frame ollamaGenFrame
	if json.Unmarshal(data, &frame) == nil && frame.Error != "" {
		return frame.Error
	}
	return string(bytes.TrimSpace(data))
}

// truncate shortens s to at most n bytes for log output.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
