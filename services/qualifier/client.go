package qualifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config defines the HTTP client settings for the bid-qualification service.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls the external analyzer that screens submitted bid documents
// against free-text requirements. Its output informs, but never automates,
// the owner's accept decision.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Submission identifies one offeror's uploaded bid package.
type Submission struct {
	ID           uuid.UUID `json:"id"`
	Offeror      string    `json:"offeror"`
	DocumentHash string    `json:"documentHash"`
}

// Result captures the analyzer's verdict: the single qualifying selection and
// how many submissions passed screening.
type Result struct {
	Selected       uuid.UUID `json:"selected"`
	QualifiedCount int       `json:"qualifiedCount"`
	Summary        string    `json:"summary,omitempty"`
}

// NewClient constructs a client with sane defaults.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("qualifier: base url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Analyze submits the requirements and bid packages for screening.
func (c *Client) Analyze(ctx context.Context, requirements string, submissions []Submission) (*Result, error) {
	if c == nil {
		return nil, fmt.Errorf("qualifier: client not configured")
	}
	if strings.TrimSpace(requirements) == "" {
		return nil, fmt.Errorf("qualifier: requirements required")
	}
	if len(submissions) == 0 {
		return nil, fmt.Errorf("qualifier: at least one submission required")
	}
	payload := struct {
		Requirements string       `json:"requirements"`
		Submissions  []Submission `json:"submissions"`
	}{Requirements: requirements, Submissions: submissions}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("qualifier: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("qualifier: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qualifier: call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qualifier: unexpected status %d", resp.StatusCode)
	}
	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("qualifier: decode: %w", err)
	}
	return &result, nil
}
