package vectordb

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchDocuments returns the k passages nearest to vec.
func (c *Client) SearchDocuments(ctx context.Context, vec []float32, k int) ([]Document, error) {
	if k <= 0 {
		k = c.cfg.TopK
	}
	points, err := c.search(ctx, c.cfg.Collection, vec, k, c.cfg.Threshold, nil)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(points))
	for _, p := range points {
		d := Document{Score: p.Score, Source: "Unknown"}
		if s, ok := p.Payload["page_content"].(string); ok {
			d.Content = s
		} else if s, ok := p.Payload["content"].(string); ok {
			d.Content = s
		}
		if src := payloadSource(p.Payload); src != "" {
			d.Source = src
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// payloadSource reads the source from either a flat payload or a nested
// metadata object.
func payloadSource(payload map[string]interface{}) string {
	if s, ok := payload["source"].(string); ok {
		return s
	}
	if md, ok := payload["metadata"].(map[string]interface{}); ok {
		if s, ok := md["source"].(string); ok {
			return s
		}
	}
	return ""
}

// Retriever embeds a query and searches the document collection.
type Retriever struct {
	Client   *Client
	Embedder Embedder
}

// Retrieve returns up to k passages relevant to query. A disabled store
// yields no passages rather than an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Document, error) {
	if r.Client == nil || !r.Client.cfg.Enabled {
		return nil, nil
	}
	vec, err := r.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.Client.SearchDocuments(ctx, vec, k)
}

// AddDocuments embeds and upserts passages. Returns the number stored.
func (r *Retriever) AddDocuments(ctx context.Context, docs []Document) (int, error) {
	points := make([]UpsertItem, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		vec, err := r.Embedder.Embed(ctx, d.Content)
		if err != nil {
			return 0, fmt.Errorf("embed document: %w", err)
		}
		source := d.Source
		if source == "" {
			source = "Unknown"
		}
		points = append(points, UpsertItem{
			ID:     uuid.New().String(),
			Vector: vec,
			Payload: map[string]interface{}{
				"page_content": d.Content,
				"metadata":     map[string]interface{}{"source": source},
			},
		})
	}
	if len(points) == 0 {
		return 0, nil
	}
	if _, err := r.Client.Upsert(ctx, r.Client.cfg.Collection, points); err != nil {
		return 0, err
	}
	return len(points), nil
}
