package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DimensionMismatchError is returned when embedding dimensions don't match collection dimensions
type DimensionMismatchError struct {
	Collection        string
	ExpectedDimension int
	ReceivedDimension int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch for collection %s: expected %d, got %d. Check the embedding model or recreate the collection",
		e.Collection, e.ExpectedDimension, e.ReceivedDimension)
}

// CollectionInfo holds basic information about a Qdrant collection
type CollectionInfo struct {
	Name        string
	VectorSize  int
	PointsCount int64
}

// getCollectionInfo returns nil, nil when the collection does not exist.
func (c *Client) getCollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/collections/%s", c.base, collection), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get collection info: status %d", resp.StatusCode)
	}

	var result struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &CollectionInfo{
		Name:        collection,
		VectorSize:  result.Result.Config.Params.Vectors.Size,
		PointsCount: result.Result.PointsCount,
	}, nil
}

// EnsureCollection creates the document collection with cosine distance when
// missing, and validates its dimension when VectorSize is configured.
func (c *Client) EnsureCollection(ctx context.Context) error {
	if c == nil || !c.cfg.Enabled {
		return nil
	}
	collection := c.cfg.Collection
	info, err := c.getCollectionInfo(ctx, collection)
	if err != nil {
		return err
	}

	if info != nil {
		if c.cfg.VectorSize > 0 && info.VectorSize != c.cfg.VectorSize {
			return DimensionMismatchError{
				Collection:        collection,
				ExpectedDimension: c.cfg.VectorSize,
				ReceivedDimension: info.VectorSize,
			}
		}
		c.log.Info("Collection validated",
			zap.String("collection", collection),
			zap.Int("dimension", info.VectorSize),
			zap.Int64("points", info.PointsCount))
		return nil
	}

	if c.cfg.VectorSize <= 0 {
		return fmt.Errorf("collection %s is missing and vector_size is not configured", collection)
	}
	body := map[string]interface{}{
		"vectors": map[string]interface{}{"size": c.cfg.VectorSize, "distance": "Cosine"},
	}
	resp, err := c.do(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s", c.base, collection), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("create collection %s: status %d", collection, resp.StatusCode)
	}
	c.log.Info("Collection created", zap.String("collection", collection), zap.Int("dimension", c.cfg.VectorSize))
	return nil
}
