package schema

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

// Registry is the subset of the schema registry the codec needs.
type Registry interface {
	Register(ctx context.Context, subject, schemaJSON string) (int, error)
	SchemaByID(ctx context.Context, id int) (string, error)
}

// RegistryClient talks to a Confluent-compatible schema registry over
// its REST API.
type RegistryClient struct {
	baseURL string
	client  *http.Client
}

// NewRegistryClient creates a client for the registry at baseURL.
func NewRegistryClient(baseURL string) *RegistryClient {
	return &RegistryClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

const registryContentType = "application/vnd.schemaregistry.v1+json"

// Register submits the schema under the subject and returns its global
// id. Registration is idempotent on the registry side: resubmitting an
// identical schema returns the existing id.
func (c *RegistryClient) Register(ctx context.Context, subject, schemaJSON string) (int, error) {
	body, err := json.Marshal(map[string]string{"schema": schemaJSON})
	if err != nil {
		return 0, fmt.Errorf("marshal register request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/subjects/%s/versions", c.baseURL, url.PathEscape(subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build register request: %w", err)
	}
	req.Header.Set("Content-Type", registryContentType)

	var result struct {
		ID int `json:"id"`
	}
	if err := c.do(req, &result); err != nil {
		return 0, fmt.Errorf("register schema for %s: %w", subject, err)
	}
	return result.ID, nil
}

// SchemaByID fetches the schema document for a global id.
func (c *RegistryClient) SchemaByID(ctx context.Context, id int) (string, error) {
	endpoint := fmt.Sprintf("%s/schemas/ids/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build schema request: %w", err)
	}

	var result struct {
		Schema string `json:"schema"`
	}
	if err := c.do(req, &result); err != nil {
		return "", fmt.Errorf("fetch schema %d: %w", id, err)
	}
	return result.Schema, nil
}

func (c *RegistryClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("registry returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
