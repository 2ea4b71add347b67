package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gmsas95/paperflow/internal/config"
)

// OllamaClient is the local model backend
type OllamaClient struct {
	provider config.Provider
	client   *http.Client
}

// NewOllamaClient creates a client for an Ollama server
func NewOllamaClient(provider config.Provider) *OllamaClient {
	timeout := provider.Timeout
	if timeout == 0 {
		timeout = 120
	}
	return &OllamaClient{
		provider: provider,
		client:   &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (o *OllamaClient) url(path string) string {
	return strings.TrimRight(o.provider.BaseURL, "/") + path
}

// Probe succeeds when the server answers /api/tags with 200
func (o *OllamaClient) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.url("/api/tags"), nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama probe: status %d", resp.StatusCode)
	}
	return nil
}

// Complete implements Transport
func (o *OllamaClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	gen := generateRequest{
		Model:   o.provider.Model,
		Prompt:  req.Prompt,
		System:  req.System,
		Options: map[string]any{"temperature": 0},
	}
	if req.JSON {
		gen.Format = "json"
	}
	if req.MaxTokens > 0 {
		gen.Options["num_predict"] = req.MaxTokens
	}

	body, err := json.Marshal(gen)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.url("/api/generate"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &Completion{Text: result.Response, Provider: ProviderLocal, Model: result.Model}, nil
}
