package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/proficienthub/mockexam-engine/internal/models"
)

// Client is a Go SDK for the mockexam-engine API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new mockexam-engine client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is an error response from the server
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s - %s", e.Code, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

// ListExamTypes retrieves the exam type catalog
func (c *Client) ListExamTypes(ctx context.Context) ([]*models.ExamTypeConfig, error) {
	var types []*models.ExamTypeConfig
	if err := c.do(ctx, "GET", "/api/v1/exam-types", nil, &types); err != nil {
		return nil, err
	}
	return types, nil
}

// GetCredits retrieves the credit balance for a user and exam type
func (c *Client) GetCredits(ctx context.Context, userID, examType string) (*models.CreditBalance, error) {
	path := "/api/v1/credits?" + url.Values{
		"user_id":   {userID},
		"exam_type": {examType},
	}.Encode()

	var balance models.CreditBalance
	if err := c.do(ctx, "GET", path, nil, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// CreateAttempt creates a new mock exam attempt
func (c *Client) CreateAttempt(ctx context.Context, req models.CreateAttemptRequest) (*models.AttemptView, error) {
	var view models.AttemptView
	if err := c.do(ctx, "POST", "/api/v1/attempts", req, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetAttempt retrieves an attempt by ID
func (c *Client) GetAttempt(ctx context.Context, id, userID string) (*models.AttemptView, error) {
	path := fmt.Sprintf("/api/v1/attempts/%s?", id) + url.Values{
		"user_id": {userID},
	}.Encode()

	var view models.AttemptView
	if err := c.do(ctx, "GET", path, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ListAttempts retrieves a user's attempts, optionally filtered by exam type
func (c *Client) ListAttempts(ctx context.Context, userID, examType string) ([]*models.AttemptView, error) {
	q := url.Values{"user_id": {userID}}
	if examType != "" {
		q.Set("exam_type", examType)
	}

	var views []*models.AttemptView
	if err := c.do(ctx, "GET", "/api/v1/attempts?"+q.Encode(), nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// StartSection starts (or resumes) a section of an attempt
func (c *Client) StartSection(ctx context.Context, attemptID, sectionType, userID string) (*models.StartSectionResponse, error) {
	path := fmt.Sprintf("/api/v1/attempts/%s/sections/%s/start", attemptID, sectionType)
	req := models.StartSectionRequest{UserID: userID}

	var resp models.StartSectionResponse
	if err := c.do(ctx, "POST", path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CompleteSection completes a section of an attempt
func (c *Client) CompleteSection(ctx context.Context, attemptID, sectionType string, req models.CompleteSectionRequest) (*models.CompleteSectionResponse, error) {
	path := fmt.Sprintf("/api/v1/attempts/%s/sections/%s/complete", attemptID, sectionType)

	var resp models.CompleteSectionResponse
	if err := c.do(ctx, "POST", path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDashboard retrieves the full per-student view for one exam type
func (c *Client) GetDashboard(ctx context.Context, userID, examType string) (*models.Dashboard, error) {
	path := "/api/v1/dashboard?" + url.Values{
		"user_id":   {userID},
		"exam_type": {examType},
	}.Encode()

	var dashboard models.Dashboard
	if err := c.do(ctx, "GET", path, nil, &dashboard); err != nil {
		return nil, err
	}
	return &dashboard, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "GET", "/health", nil, nil)
}

// do performs a request and decodes the response envelope into out.
// out may be nil when the caller only cares about success.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("HTTP %d: failed to unmarshal response: %w", resp.StatusCode, err)
	}

	if !env.Success {
		if env.Error != nil {
			return env.Error
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to unmarshal response data: %w", err)
		}
	}

	return nil
}
