package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/autodev-ai/orchestrator/internal/invoker"
)

// httpTransport is the default provider transport: a JSON POST to a
// per-provider endpoint taken from the environment. Endpoints are
// configured as PROVIDER_<NAME>_URL with an optional
// PROVIDER_<NAME>_API_KEY bearer token. Anything richer (per-provider
// wire formats, streaming) belongs in the embedding process, which can
// supply its own invoker.CallFunc instead.
type httpTransport struct {
	client *http.Client
	logger *zap.Logger
}

func newHTTPTransport(logger *zap.Logger) *httpTransport {
	return &httpTransport{
		client: &http.Client{Timeout: 120 * time.Second},
		logger: logger,
	}
}

type completionPayload struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

func (t *httpTransport) Call(ctx context.Context, provider string, req invoker.Request) (invoker.Response, error) {
	envKey := strings.ToUpper(strings.ReplaceAll(provider, "-", "_"))
	url := os.Getenv("PROVIDER_" + envKey + "_URL")
	if url == "" {
		return invoker.Response{}, fmt.Errorf("no endpoint configured for provider %s (set PROVIDER_%s_URL)", provider, envKey)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return invoker.Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return invoker.Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := os.Getenv("PROVIDER_" + envKey + "_API_KEY"); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return invoker.Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return invoker.Response{}, fmt.Errorf("provider %s returned HTTP %d", provider, resp.StatusCode)
	}

	var payload completionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return invoker.Response{}, fmt.Errorf("decode provider %s response: %w", provider, err)
	}
	return invoker.Response{Content: payload.Content, Truncated: payload.Truncated}, nil
}
