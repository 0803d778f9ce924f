package nlq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/meridian-gis/geoquery/internal/cache"
	"github.com/meridian-gis/geoquery/internal/observability"
)

// QueryCache memoizes compiled queries. Entries are keyed by the query
// text together with the schema fingerprint, so a schema reload naturally
// invalidates everything compiled against the old schema.
type QueryCache struct {
	client cache.Client
	ttl    time.Duration
	logger *observability.Logger
}

func NewQueryCache(client cache.Client, ttl time.Duration, logger *observability.Logger) *QueryCache {
	return &QueryCache{client: client, ttl: ttl, logger: logger}
}

// Key derives the cache key for a query against a schema version.
func (c *QueryCache) Key(queryText, schemaFingerprint string) string {
	sum := sha256.Sum256([]byte(queryText + ":" + schemaFingerprint))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached compiled query, or nil on a miss.
func (c *QueryCache) Get(ctx context.Context, queryText, schemaFingerprint string) (*CompiledQuery, error) {
	data, err := c.client.Get(ctx, c.Key(queryText, schemaFingerprint))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}

	var q CompiledQuery
	if err := json.Unmarshal(data, &q); err != nil {
		c.logger.Warn().Err(err).Msg("Discarding undecodable cache entry")
		return nil, nil
	}
	return &q, nil
}

// Set stores a compiled query.
func (c *QueryCache) Set(ctx context.Context, queryText, schemaFingerprint string, q *CompiledQuery) error {
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(queryText, schemaFingerprint), data, c.ttl)
}

// Clear drops all cached queries.
func (c *QueryCache) Clear(ctx context.Context) error {
	return c.client.Clear(ctx)
}
