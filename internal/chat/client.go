package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Client talks to the Polo backend API. It covers session creation, the
// streaming turn submission, and the auxiliary collaborator endpoints.
type Client struct {
	baseURL string

	client *http.Client
	logger *slog.Logger
}

// HistoryEntry is one stored exchange entry returned by the history endpoint.
type HistoryEntry struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
}

// Health is the backend health report.
type Health struct {
	Status      string `json:"status"`
	Model       string `json:"model"`
	Service     string `json:"service"`
	ActiveChats int    `json:"active_chats"`
}

type turnRequest struct {
	Message     string         `json:"message"`
	UserProfile map[string]any `json:"user_profile,omitempty"`
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "client")),
	}
}

// CreateChat establishes a new chat session on the backend and returns its id.
func (c *Client) CreateChat(ctx context.Context) (string, error) {
	var res struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/chats", nil, &res); err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", fmt.Errorf("backend returned an empty chat id")
	}
	return res.ID, nil
}

// StreamTurn submits a user message to an existing chat and opens the reply
// stream. A non-2xx response yields a *RequestError before any delta is
// observable; the returned Stream owns the response body and must be closed.
func (c *Client) StreamTurn(ctx context.Context, chatID, message string, profile map[string]any) (*Stream, error) {
	jsonBody, err := json.Marshal(turnRequest{
		Message:     message,
		UserProfile: profile,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chats/"+chatID, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &RequestError{StatusCode: resp.StatusCode, Body: body}
	}

	return newStream(ctx, resp.Body, c.logger), nil
}

// SampleQueries fetches the backend's suggested prompts.
func (c *Client) SampleQueries(ctx context.Context) ([]string, error) {
	var res struct {
		Queries []string `json:"queries"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/sample-queries", nil, &res); err != nil {
		return nil, err
	}
	return res.Queries, nil
}

// History retrieves the stored conversation history for a chat.
func (c *Client) History(ctx context.Context, chatID string) ([]HistoryEntry, error) {
	var res struct {
		History []HistoryEntry `json:"history"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/chats/"+chatID+"/history", nil, &res); err != nil {
		return nil, err
	}
	return res.History, nil
}

// DeleteChat removes a chat session from the backend.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/chats/"+chatID, nil, nil)
}

// Health reports the backend's health status.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var res Health
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &res); err != nil {
		return Health{}, err
	}
	return res, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return &RequestError{StatusCode: resp.StatusCode, Body: respBody}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
