package vectorstore

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

const defaultQdrantTimeout = 30 * time.Second

// Qdrant stores vectors in a Qdrant instance over its REST API.
type Qdrant struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

func NewQdrant(endpoint, collection string, timeout time.Duration) *Qdrant {
	if timeout <= 0 {
		timeout = defaultQdrantTimeout
	}
	return &Qdrant{
		baseURL:    strings.TrimRight(endpoint, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// EnsureCollection creates the collection with cosine distance if missing.
func (q *Qdrant) EnsureCollection(ctx context.Context, dim int) error {
	url := q.baseURL + "/collections/" + q.collection
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build qdrant request failed: %w", err)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant get collection failed: %w", err)
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read qdrant response failed: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("qdrant get collection status %d: %s", resp.StatusCode, string(raw))
	}

	reqBody := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal create collection failed: %w", err)
	}

	createReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("build qdrant request failed: %w", err)
	}
	createReq.Header.Set("Content-Type", "application/json")

	createResp, err := q.httpClient.Do(createReq)
	if err != nil {
		return fmt.Errorf("qdrant create collection failed: %w", err)
	}
	defer createResp.Body.Close()

	if createResp.StatusCode >= 300 && createResp.StatusCode != http.StatusConflict {
		raw, _ := io.ReadAll(createResp.Body)
		return fmt.Errorf("qdrant create collection status %d: %s", createResp.StatusCode, string(raw))
	}
	return nil
}

// Upsert writes points and waits until they are persisted.
func (q *Qdrant) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	reqBody := map[string]interface{}{
		"points": points,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal upsert request failed: %w", err)
	}

	url := q.baseURL + "/collections/" + q.collection + "/points?wait=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("build qdrant request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant upsert status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

// Search returns the closest points to the query vector with payloads.
func (q *Qdrant) Search(ctx context.Context, vector []float32, limit int) ([]ScoredPoint, error) {
	reqBody := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search request failed: %w", err)
	}

	url := q.baseURL + "/collections/" + q.collection + "/points/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build qdrant request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read qdrant response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qdrant search status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Result []ScoredPoint `json:"result"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse qdrant search json failed: %w", err)
	}
	return parsed.Result, nil
}

// Ping checks that the Qdrant root endpoint answers.
func (q *Qdrant) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("build qdrant request failed: %w", err)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping qdrant failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant ping status %d", resp.StatusCode)
	}
	return nil
}
