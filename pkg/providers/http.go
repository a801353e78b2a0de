package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPCompleter talks to an OpenAI-compatible chat completions endpoint.
type HTTPCompleter struct {
	apiBase    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewHTTPCompleter(apiBase, apiKey, model string, timeout time.Duration) (*HTTPCompleter, error) {
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		return nil, fmt.Errorf("provider API base not configured")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("provider model not configured")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCompleter{
		apiBase:    apiBase,
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(model),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (p *HTTPCompleter) Complete(ctx context.Context, messages []Message) (string, error) {
	requestBody := map[string]interface{}{
		"model":    p.model,
		"messages": messages,
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	endpoint := p.apiBase + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		// Transport failures and timeouts are worth retrying.
		return "", fmt.Errorf("%w: send completion request: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read completion response: %v", ErrTransient, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("%w: status=%d error=%s", ErrTransient, resp.StatusCode, extractAPIError(body))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("completion request failed: status=%d error=%s", resp.StatusCode, extractAPIError(body))
	}

	text, err := parseCompletionResponse(body)
	if err != nil {
		return "", fmt.Errorf("parse completion response: %w", err)
	}
	return text, nil
}

func parseCompletionResponse(body []byte) (string, error) {
	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", err
	}
	if len(apiResponse.Choices) == 0 {
		return "", nil
	}
	return apiResponse.Choices[0].Message.Content, nil
}

func extractAPIError(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}
	if len(trimmed) > 2000 {
		return trimmed[:2000] + "..."
	}
	return trimmed
}
