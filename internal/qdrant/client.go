// Package qdrant wraps the Qdrant HTTP API for collection management, point
// upsert and scoped vector search. The index is a rebuildable projection keyed
// by knowledge item ID; the record store stays authoritative for existence and
// status.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stadtwerk-labs/wissen/internal/domain"
)

const (
	// StandardCollection holds the shared standard-scope knowledge base.
	StandardCollection = "kb_standard"

	distanceCosine = "Cosine"
)

// ErrDimensionMismatch is returned when a collection exists with a different
// vector dimension than configured. This is a fatal configuration error: a
// dimension change requires new collections, never in-place mixing.
var ErrDimensionMismatch = errors.New("collection vector dimension mismatch, recreate the collection")

// Payload is the filterable/traceability metadata stored with each point.
// It never carries the item body: full content stays in the record store.
type Payload struct {
	ItemID     string   `json:"kb_id"`
	Type       string   `json:"type"`
	Title      string   `json:"title"`
	Tags       []string `json:"tags"`
	SAPObjects []string `json:"sap_objects"`
	Scope      string   `json:"client_scope"`
	ClientCode string   `json:"client_code,omitempty"`
	Version    int      `json:"version"`
	UpdatedAt  string   `json:"updated_at"`
}

// Point is one search hit.
type Point struct {
	ID      string
	Score   float64
	Payload Payload
}

// Config holds Qdrant client configuration.
type Config struct {
	URL        string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
}

// Client talks to Qdrant over its HTTP API.
type Client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	dimensions int
}

// NewClient creates a new Qdrant client.
func NewClient(cfg Config) *Client {
	url := cfg.URL
	if url == "" {
		url = "http://localhost:6333"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(url, "/"),
		apiKey:     cfg.APIKey,
		dimensions: cfg.Dimensions,
	}
}

// CollectionName returns the collection for a scope. One collection serves the
// shared standard scope; each client code gets its own.
func CollectionName(scope domain.Scope, clientCode string) (string, error) {
	switch scope {
	case domain.ScopeStandard:
		return StandardCollection, nil
	case domain.ScopeClient:
		if clientCode == "" {
			return "", domain.ErrClientCodeRequired
		}
		return "kb_" + domain.NormalizeClientCode(clientCode), nil
	default:
		return "", domain.ErrInvalidScope
	}
}

// CollectionExists reports whether a collection exists.
func (c *Client) CollectionExists(ctx context.Context, name string) (bool, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, c.statusError("get collection", name, resp)
	}
}

// EnsureCollection creates the collection if missing and verifies the vector
// dimension if it already exists.
func (c *Client) EnsureCollection(ctx context.Context, name string) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusOK {
		var info struct {
			Result struct {
				Config struct {
					Params struct {
						Vectors struct {
							Size int `json:"size"`
						} `json:"vectors"`
					} `json:"params"`
				} `json:"config"`
			} `json:"result"`
		}
		err := json.NewDecoder(resp.Body).Decode(&info)
		resp.Body.Close()
		if err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "failed to decode collection info", err)
		}
		if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != c.dimensions {
			return fmt.Errorf("%w: collection %s has %d, expected %d", ErrDimensionMismatch, name, size, c.dimensions)
		}
		return nil
	}
	drain(resp)

	body := map[string]any{
		"vectors": map[string]any{
			"size":     c.dimensions,
			"distance": distanceCosine,
		},
	}
	resp, err = c.doRequest(ctx, http.MethodPut, "/collections/"+name, body)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode >= 300 {
		return c.statusError("create collection", name, resp)
	}
	return nil
}

// Upsert writes one point, overwriting any previous point with the same ID.
// The point ID equals the knowledge item ID so a new version replaces the old
// vector instead of duplicating it.
func (c *Client) Upsert(ctx context.Context, collection, pointID string, vector []float32, payload Payload) error {
	if len(vector) != c.dimensions {
		return fmt.Errorf("%w: vector has %d, expected %d", ErrDimensionMismatch, len(vector), c.dimensions)
	}
	if err := c.EnsureCollection(ctx, collection); err != nil {
		return err
	}

	body := map[string]any{
		"points": []map[string]any{
			{
				"id":      pointID,
				"vector":  vector,
				"payload": payload,
			},
		},
	}
	resp, err := c.doRequest(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode >= 300 {
		return c.statusError("upsert", collection, resp)
	}
	return nil
}

// Search returns the nearest points in one collection, optionally pre-filtered
// by knowledge item type.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, limit int, typeFilter string) ([]Point, error) {
	if len(vector) != c.dimensions {
		return nil, fmt.Errorf("%w: vector has %d, expected %d", ErrDimensionMismatch, len(vector), c.dimensions)
	}
	if limit <= 0 {
		limit = 8
	}

	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if typeFilter != "" {
		body["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": "type", "match": map[string]any{"value": typeFilter}},
			},
		}
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		// Missing collection means nothing indexed for this scope yet.
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, c.statusError("search", collection, resp)
	}

	var searchResp struct {
		Result []struct {
			ID      string  `json:"id"`
			Score   float64 `json:"score"`
			Payload Payload `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "failed to decode search response", err)
	}

	points := make([]Point, 0, len(searchResp.Result))
	for _, hit := range searchResp.Result {
		points = append(points, Point{ID: hit.ID, Score: hit.Score, Payload: hit.Payload})
	}
	return points, nil
}

// RetrieveIDs returns which of the given point IDs exist in the collection.
// Used by reconciliation to find approved items missing from the index.
func (c *Client) RetrieveIDs(ctx context.Context, collection string, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	body := map[string]any{
		"ids":          ids,
		"with_payload": false,
		"with_vector":  false,
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points", body)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return map[string]bool{}, nil
	}
	if resp.StatusCode >= 300 {
		return nil, c.statusError("retrieve points", collection, resp)
	}

	var retrieveResp struct {
		Result []struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&retrieveResp); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "failed to decode retrieve response", err)
	}

	present := make(map[string]bool, len(retrieveResp.Result))
	for _, p := range retrieveResp.Result {
		present[p.ID] = true
	}
	return present, nil
}

// ScrollIDs enumerates every point ID in a collection, paging through the
// scroll API. A missing collection yields an empty result.
func (c *Client) ScrollIDs(ctx context.Context, collection string) ([]string, error) {
	var ids []string
	var offset any

	for {
		body := map[string]any{
			"limit":        256,
			"with_payload": false,
			"with_vector":  false,
		}
		if offset != nil {
			body["offset"] = offset
		}
		resp, err := c.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusNotFound {
			drain(resp)
			return []string{}, nil
		}
		if resp.StatusCode >= 300 {
			err := c.statusError("scroll points", collection, resp)
			drain(resp)
			return nil, err
		}

		var scrollResp struct {
			Result struct {
				Points []struct {
					ID string `json:"id"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		err = json.NewDecoder(resp.Body).Decode(&scrollResp)
		drain(resp)
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "failed to decode scroll response", err)
		}

		for _, p := range scrollResp.Result.Points {
			ids = append(ids, p.ID)
		}
		if scrollResp.Result.NextPageOffset == nil {
			return ids, nil
		}
		offset = scrollResp.Result.NextPageOffset
	}
}

// DeletePoints removes points by ID.
func (c *Client) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	body := map[string]any{"points": ids}
	resp, err := c.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", body)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusNotFound && resp.StatusCode >= 300 {
		return c.statusError("delete points", collection, resp)
	}
	return nil
}

// DeleteCollections drops whole collections. Test and maintenance use only.
func (c *Client) DeleteCollections(ctx context.Context, names []string) error {
	for _, name := range names {
		resp, err := c.doRequest(ctx, http.MethodDelete, "/collections/"+name, nil)
		if err != nil {
			return err
		}
		status := resp.StatusCode
		drain(resp)
		if status != http.StatusNotFound && status >= 300 {
			return domain.NewDomainError(domain.ErrCodeExternalService,
				fmt.Sprintf("failed to delete collection %s (status %d)", name, status))
		}
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "qdrant request timed out", err)
		}
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, domain.ErrVectorIndexUnreachable.Message, err)
	}
	return resp, nil
}

func (c *Client) statusError(op, collection string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return domain.NewDomainError(domain.ErrCodeExternalService,
		fmt.Sprintf("qdrant %s on %s failed: %s %s", op, collection, resp.Status, strings.TrimSpace(string(raw))))
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
