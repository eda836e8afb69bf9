package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/internal/infrastructure/middleware"
	"rtclink/pkg/retry"
)

// apiClient talks to the session REST API with a project token.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
	retry      retry.Config
}

func newAPIClient(baseURL, projectToken string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		token: projectToken,
		retry: retry.DefaultConfig(),
	}
}

func (c *apiClient) CreateSession(ctx context.Context) (domain.SessionID, error) {
	var resp struct {
		SessionID domain.SessionID `json:"session_id"`
	}
	if err := c.post(ctx, "/api/v1/sessions", map[string]any{}, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

func (c *apiClient) IssueToken(ctx context.Context, id domain.SessionID, role domain.Role, data string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"role": string(role), "data": data}
	if err := c.post(ctx, fmt.Sprintf("/api/v1/sessions/%s/tokens", id), body, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return retry.Retry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.ProjectAuthHeader, c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("%s: %s", resp.Status, raw)
		case resp.StatusCode >= 300:
			return retry.Permanent(fmt.Errorf("%s: %s", resp.Status, raw))
		}
		return json.Unmarshal(raw, out)
	})
}
