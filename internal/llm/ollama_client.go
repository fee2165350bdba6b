package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	cberrors "coursebot/internal/errors"
	"coursebot/internal/logging"
)

const (
	// DefaultOllamaURL is the local Ollama server.
	DefaultOllamaURL = "http://localhost:11434"
	// DefaultModel is used when no model is configured.
	DefaultModel = "llama3.1:latest"
)

var _ StreamOpener = (*OllamaClient)(nil)

// OllamaConfig configures the Ollama client.
type OllamaConfig struct {
	BaseURL string
	// HeaderTimeout bounds connecting and waiting for response headers. It
	// does not limit how long the body may stream.
	HeaderTimeout time.Duration
	Options       map[string]any
	HTTPClient    *http.Client
	Logger        logging.Logger
}

// OllamaClient opens streaming chat completions against an Ollama server.
type OllamaClient struct {
	baseURL    string
	options    map[string]any
	httpClient *http.Client
	logger     logging.Logger
}

// NewOllamaClient builds a client. BaseURL may be given with or without the
// trailing /api segment.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if !strings.HasSuffix(baseURL, "/api") {
		baseURL += "/api"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.HeaderTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ResponseHeaderTimeout: timeout,
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}

	logger := cfg.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("ollama-client")
	}

	return &OllamaClient{
		baseURL:    baseURL,
		options:    cfg.Options,
		httpClient: httpClient,
		logger:     logger,
	}
}

// OpenStream posts a streaming chat request and returns the response body.
func (c *OllamaClient) OpenStream(ctx context.Context, model string, messages []Message) (io.ReadCloser, error) {
	if model == "" {
		model = DefaultModel
	}
	endpoint := c.baseURL + "/chat"

	body, err := json.Marshal(ollamaRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Options:  c.options,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &cberrors.ConnectionError{Endpoint: endpoint, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("ollama connect failed (network=%t): %v", cberrors.IsNetworkError(err), err)
		return nil, &cberrors.ConnectionError{Endpoint: endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &cberrors.ConnectionError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("ollama chat failed: %s", strings.TrimSpace(string(detail))),
		}
	}

	c.logger.Debug("ollama stream opened model=%s messages=%d", model, len(messages))
	return resp.Body, nil
}

// Ping checks that the server answers its model listing endpoint.
func (c *OllamaClient) Ping(ctx context.Context) error {
	endpoint := c.baseURL + "/tags"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &cberrors.ConnectionError{Endpoint: endpoint, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return &cberrors.ConnectionError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}
	return nil
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}
