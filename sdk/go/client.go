package ascentsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Ascent HTTP API client.
type Client struct {
	BaseURL     string
	OrgID       string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, orgID string) *Client {
	return &Client{
		BaseURL: baseURL,
		OrgID:   orgID,
		Timeout: 10 * time.Second,
	}
}

// ProgressionRecord mirrors the API record model (partial).
type ProgressionRecord struct {
	OrgID            string             `json:"org_id"`
	MilestoneType    string             `json:"milestone_type"`
	Status           string             `json:"status"`
	AttemptCount     int                `json:"attempt_count"`
	AchievedAt       *string            `json:"achieved_at,omitempty"`
	FailedAt         *string            `json:"failed_at,omitempty"`
	Capability       map[string]float64 `json:"capability"`
	Alignment        map[string]float64 `json:"alignment"`
	MonthsInProgress float64            `json:"months_in_progress"`
	Version          int64              `json:"version"`
}

// AttemptResult reports one trial outcome.
type AttemptResult struct {
	Achieved    bool              `json:"achieved"`
	Roll        float64           `json:"roll"`
	Probability map[string]any    `json:"probability"`
	Risk        map[string]any    `json:"risk"`
	Record      ProgressionRecord `json:"record"`
}

// Challenge is a presented alignment trade-off (partial).
type Challenge struct {
	ID            string  `json:"id"`
	OrgID         string  `json:"org_id"`
	MilestoneType string  `json:"milestone_type"`
	Scenario      string  `json:"scenario"`
	Choice        *string `json:"choice,omitempty"`
	PresentedAt   string  `json:"presented_at"`
	ResolvedAt    *string `json:"resolved_at,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts"`
	Type          string `json:"type"`
	OrgID         string `json:"org_id"`
	MilestoneType string `json:"milestone_type"`
	ActorID       string `json:"actor_id"`
	Payload       string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListMilestones returns all progression records for the org.
func (c *Client) ListMilestones(ctx context.Context) ([]ProgressionRecord, error) {
	var resp []ProgressionRecord
	err := c.do(ctx, http.MethodGet, c.orgPath("milestones"), nil, &resp)
	return resp, err
}

// GetMilestone fetches one progression record.
func (c *Client) GetMilestone(ctx context.Context, milestoneType string) (ProgressionRecord, error) {
	var resp ProgressionRecord
	endpoint := c.orgPath(fmt.Sprintf("milestones/%s", url.PathEscape(milestoneType)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Attempt runs an achievement trial with the declared resources.
func (c *Client) Attempt(ctx context.Context, milestoneType string, researchPoints, computeBudget float64) (AttemptResult, error) {
	body := map[string]any{
		"research_points": researchPoints,
		"compute_budget":  computeBudget,
	}
	var resp AttemptResult
	endpoint := c.orgPath(fmt.Sprintf("milestones/%s/attempts", url.PathEscape(milestoneType)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// PresentChallenge asks the server for a new alignment challenge.
func (c *Client) PresentChallenge(ctx context.Context, milestoneType string) (Challenge, error) {
	var resp Challenge
	endpoint := c.orgPath(fmt.Sprintf("milestones/%s/challenges", url.PathEscape(milestoneType)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ResolveChallenge records a choice against a presented challenge.
func (c *Client) ResolveChallenge(ctx context.Context, milestoneType, challengeID, choice string) (ProgressionRecord, error) {
	body := map[string]any{"choice": choice}
	var resp ProgressionRecord
	endpoint := c.orgPath(fmt.Sprintf("milestones/%s/challenges/%s/resolution",
		url.PathEscape(milestoneType), url.PathEscape(challengeID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListEvents tails the org's progression log.
func (c *Client) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.orgPath("events")
	if limit > 0 {
		endpoint += fmt.Sprintf("?limit=%d", limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	} else if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) orgPath(p string) string {
	org := url.PathEscape(c.OrgID)
	return fmt.Sprintf("v0/orgs/%s/%s", org, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
