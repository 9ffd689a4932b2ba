// Package client is an HTTP client for the admin surface, used by the
// expctl CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the admin API with a JWT bearer token.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new admin API client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Project mirrors the admin surface's project response.
type Project struct {
	ID          string    `json:"id" yaml:"id"`
	Owner       string    `json:"owner" yaml:"owner"`
	APIKey      string    `json:"api_key" yaml:"api_key"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// Experiment mirrors the admin surface's experiment response.
type Experiment struct {
	ID          string    `json:"id" yaml:"id"`
	ProjectID   string    `json:"project_id" yaml:"project_id"`
	Key         string    `json:"key" yaml:"key"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Status      string    `json:"status" yaml:"status"`
	Kind        string    `json:"kind" yaml:"kind"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// Variant mirrors the admin surface's variant response.
type Variant struct {
	ID           string         `json:"id" yaml:"id"`
	ExperimentID string         `json:"experiment_id" yaml:"experiment_id"`
	Key          string         `json:"key" yaml:"key"`
	Payload      map[string]any `json:"payload" yaml:"payload"`
	Rollout      float64        `json:"rollout" yaml:"rollout"`
}

// StatsResult is the response of the stats and recalculate endpoints.
type StatsResult struct {
	Experiment   Experiment         `json:"experiment" yaml:"experiment"`
	CountChanged int                `json:"count_changed" yaml:"count_changed"`
	Stats        map[string]float64 `json:"stats" yaml:"stats"`
}

// do executes one JSON request/response round trip. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Login exchanges credentials for an admin session token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, "POST", "/admin/login", map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return "", err
	}
	return out.Token, nil
}

// ListProjects returns the caller's projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var out struct {
		Projects []Project `json:"projects"`
	}
	if err := c.do(ctx, "GET", "/admin/projects/", nil, &out); err != nil {
		return nil, err
	}
	return out.Projects, nil
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, title, description string) (*Project, error) {
	var out Project
	err := c.do(ctx, "POST", "/admin/projects/", map[string]string{"title": title, "description": description}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListExperiments lists experiments, optionally filtered by project.
func (c *Client) ListExperiments(ctx context.Context, projectID string) ([]Experiment, error) {
	path := "/admin/experiments/"
	if projectID != "" {
		path += "?project_id=" + projectID
	}
	var out struct {
		Experiments []Experiment `json:"experiments"`
	}
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out.Experiments, nil
}

// GetExperiment fetches one experiment by id.
func (c *Client) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	var out Experiment
	if err := c.do(ctx, "GET", "/admin/experiments/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateExperiment creates an experiment.
func (c *Client) CreateExperiment(ctx context.Context, e Experiment) (*Experiment, error) {
	var out Experiment
	if err := c.do(ctx, "POST", "/admin/experiments/", e, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateExperiment applies a partial update (empty fields are left as-is).
func (c *Client) UpdateExperiment(ctx context.Context, id string, e Experiment) (*Experiment, error) {
	var out Experiment
	if err := c.do(ctx, "PUT", "/admin/experiments/"+id, e, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteExperiment deletes an experiment.
func (c *Client) DeleteExperiment(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", "/admin/experiments/"+id, nil, nil)
}

// ListVariants lists the variants of an experiment.
func (c *Client) ListVariants(ctx context.Context, experimentID string) ([]Variant, error) {
	var out struct {
		Variants []Variant `json:"variants"`
	}
	if err := c.do(ctx, "GET", "/admin/variants/?experiment_id="+experimentID, nil, &out); err != nil {
		return nil, err
	}
	return out.Variants, nil
}

// CreateVariant creates a variant.
func (c *Client) CreateVariant(ctx context.Context, v Variant) (*Variant, error) {
	var out Variant
	if err := c.do(ctx, "POST", "/admin/variants/", v, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateVariantRollout sets one variant's rollout.
func (c *Client) UpdateVariantRollout(ctx context.Context, id string, rollout float64) (*Variant, error) {
	var out Variant
	if err := c.do(ctx, "PUT", "/admin/variants/"+id, map[string]float64{"rollout": rollout}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns per-variant assignment percentages.
func (c *Client) Stats(ctx context.Context, experimentID string) (*StatsResult, error) {
	var out StatsResult
	if err := c.do(ctx, "GET", "/admin/experiments/"+experimentID+"/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recalculate sweeps an experiment's distributions and returns the result.
func (c *Client) Recalculate(ctx context.Context, experimentID string) (*StatsResult, error) {
	var out StatsResult
	if err := c.do(ctx, "POST", "/admin/experiments/"+experimentID+"/recalculate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
