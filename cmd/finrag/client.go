package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kalambet/finrag/internal/config"
	"github.com/kalambet/finrag/internal/ingest"
	"github.com/kalambet/finrag/internal/retrieval"
	"github.com/kalambet/finrag/internal/storage"
)

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	token, err := config.GetAPIToken(config.NewKeychain(cfg.Storage.DataDir))
	if err != nil {
		return nil, fmt.Errorf("getting API token: %w", err)
	}

	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is finrag serve running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *apiClient) delete(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// recall returns the chunks the server retrieves for query, best first.
func (c *apiClient) recall(ctx context.Context, query string, limit int) ([]retrieval.ScoredChunk, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	resp, err := c.get(ctx, "/recall?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var chunks []retrieval.ScoredChunk
	if err := decodeJSON(resp, &chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (c *apiClient) interactions(ctx context.Context, limit int) ([]storage.Interaction, error) {
	resp, err := c.get(ctx, "/interactions?limit="+strconv.Itoa(limit))
	if err != nil {
		return nil, err
	}
	var list []storage.Interaction
	if err := decodeJSON(resp, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *apiClient) interaction(ctx context.Context, id string) (storage.Interaction, error) {
	var ix storage.Interaction
	resp, err := c.get(ctx, "/interactions/"+url.PathEscape(id))
	if err != nil {
		return ix, err
	}
	err = decodeJSON(resp, &ix)
	return ix, err
}

// pruneInteractions deletes interactions created before the cutoff and
// returns how many were removed.
func (c *apiClient) pruneInteractions(ctx context.Context, before time.Time) (int64, error) {
	resp, err := c.delete(ctx, "/interactions?before="+url.QueryEscape(before.UTC().Format(time.RFC3339)))
	if err != nil {
		return 0, err
	}
	var result struct {
		Deleted int64 `json:"deleted"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return 0, err
	}
	return result.Deleted, nil
}

// rebuild queues a corpus rebuild and returns the job ID. An empty path
// rebuilds the server's configured corpus.
func (c *apiClient) rebuild(ctx context.Context, path string) (string, error) {
	resp, err := c.post(ctx, "/corpus/rebuild", ingest.RebuildPayload{Path: path})
	if err != nil {
		return "", err
	}
	var result struct {
		JobID string `json:"job_id"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return "", err
	}
	if result.JobID == "" {
		return "", fmt.Errorf("server accepted the rebuild without a job id")
	}
	return result.JobID, nil
}

func (c *apiClient) rebuildStatus(ctx context.Context, jobID string) (storage.Job, error) {
	var job storage.Job
	resp, err := c.get(ctx, "/corpus/rebuild/"+url.PathEscape(jobID))
	if err != nil {
		return job, err
	}
	err = decodeJSON(resp, &job)
	return job, err
}
