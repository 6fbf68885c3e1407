// Package redis implements the vector index on Redis Stack FT.SEARCH.
// Books are stored as hashes under a configured key prefix; nearest-neighbor
// queries run as KNN searches over the embedding field.
package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/davidbz/librarian/internal/config"
	"github.com/davidbz/librarian/internal/domain"
	"github.com/davidbz/librarian/internal/observability"
)

const redisDialectVersion = 2

// VectorIndex implements domain.VectorIndex on a Redis search index.
type VectorIndex struct {
	client    *redis.Client
	indexName string
	keyPrefix string
	dimension int
}

// NewVectorIndex creates the adapter and the search index if it is missing.
func NewVectorIndex(client *redis.Client, cfg *config.RedisConfig) (*VectorIndex, error) {
	v := &VectorIndex{
		client:    client,
		indexName: cfg.IndexName,
		keyPrefix: cfg.KeyPrefix,
		dimension: cfg.Dimension,
	}

	if err := v.createIndex(); err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return v, nil
}

// floatsToBytes converts a float64 slice to the FLOAT32 little-endian blob
// Redis vector fields expect.
func floatsToBytes(fs []float64) []byte {
	const bytesPerFloat32 = 4
	buf := make([]byte, len(fs)*bytesPerFloat32)

	for i, f := range fs {
		u := math.Float32bits(float32(f))
		binary.LittleEndian.PutUint32(buf[i*bytesPerFloat32:], u)
	}

	return buf
}

// Upsert stores or replaces a vector with associated metadata.
func (v *VectorIndex) Upsert(ctx context.Context, id string, vector []float64, metadata map[string]string) error {
	if id == "" {
		return fmt.Errorf("vector id cannot be empty")
	}
	if len(vector) != v.dimension {
		return fmt.Errorf("vector dimension %d does not match index dimension %d", len(vector), v.dimension)
	}

	fields := []any{"embedding", floatsToBytes(vector)}
	for key, value := range metadata {
		fields = append(fields, "meta_"+key, value)
	}

	if err := v.client.HSet(ctx, v.keyPrefix+id, fields...).Err(); err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}

	return nil
}

// Query returns the topK nearest vectors by ascending cosine distance.
func (v *VectorIndex) Query(ctx context.Context, vector []float64, topK int) ([]domain.IndexMatch, error) {
	if topK < 1 {
		return nil, fmt.Errorf("topK must be >= 1, got %d", topK)
	}

	logger := observability.FromContext(ctx)
	logger.Debug("starting vector query",
		observability.String("index", v.indexName),
		observability.Int("embedding_dim", len(vector)),
		observability.Int("top_k", topK))

	query := fmt.Sprintf("*=>[KNN %d @embedding $vec AS distance]", topK)

	results, err := v.client.FTSearchWithArgs(ctx, v.indexName, query,
		&redis.FTSearchOptions{
			Return: []redis.FTSearchReturn{
				{FieldName: "distance"},
			},
			SortBy: []redis.FTSearchSortBy{
				{FieldName: "distance", Asc: true},
			},
			DialectVersion: redisDialectVersion,
			Params: map[string]any{
				"vec": floatsToBytes(vector),
			},
		},
	).Result()
	if err != nil {
		logger.Error("vector query failed", observability.Error(err))
		return nil, fmt.Errorf("query failed: %w", err)
	}

	matches := make([]domain.IndexMatch, 0, len(results.Docs))
	for _, doc := range results.Docs {
		distStr, ok := doc.Fields["distance"]
		if !ok {
			continue
		}
		dist, parseErr := strconv.ParseFloat(distStr, 64)
		if parseErr != nil {
			continue
		}
		matches = append(matches, domain.IndexMatch{
			ID:       strings.TrimPrefix(doc.ID, v.keyPrefix),
			Distance: dist,
		})
	}

	logger.Debug("vector query completed",
		observability.Int("total_docs", results.Total),
		observability.Int("matches", len(matches)))

	return matches, nil
}

// createIndex creates the Redis search index if it doesn't exist.
func (v *VectorIndex) createIndex() error {
	ctx := context.Background()
	logger := observability.FromContext(ctx)

	// Check if index already exists
	if _, err := v.client.FTInfo(ctx, v.indexName).Result(); err == nil {
		logger.Info("redis search index already exists, skipping creation",
			observability.String("index_name", v.indexName))
		return nil
	}

	logger.Info("creating redis search index",
		observability.String("index_name", v.indexName),
		observability.Int("dimension", v.dimension))

	_, err := v.client.FTCreate(ctx, v.indexName,
		&redis.FTCreateOptions{
			OnHash: true,
			Prefix: []any{v.keyPrefix},
		},
		&redis.FieldSchema{
			FieldName: "embedding",
			FieldType: redis.SearchFieldTypeVector,
			VectorArgs: &redis.FTVectorArgs{
				FlatOptions: &redis.FTFlatOptions{
					Type:           "FLOAT32",
					Dim:            v.dimension,
					DistanceMetric: "COSINE",
				},
			},
		},
		&redis.FieldSchema{
			FieldName: "meta_title",
			FieldType: redis.SearchFieldTypeText,
		},
	).Result()
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	logger.Info("successfully created redis search index",
		observability.String("index_name", v.indexName))

	return nil
}
