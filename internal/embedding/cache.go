package embedding

import (
	"context"
	"fmt"

	"github.com/hoardlabs/hoard/internal/store"
)

// CachedEmbedder fronts a Client with the content-hash cache table. Lookups
// run against the reader handle; fresh vectors are returned with cached=false
// so the caller can persist them with store.PutCachedVector inside its own
// write transaction.
type CachedEmbedder struct {
	client *Client
	reader store.Querier
}

func NewCachedEmbedder(client *Client, reader store.Querier) *CachedEmbedder {
	return &CachedEmbedder{client: client, reader: reader}
}

func (e *CachedEmbedder) Model() string { return e.client.Model() }

// Embed returns the vector for text and whether it came from the cache.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, bool, error) {
	hash := store.ContentHash(text)

	vec, err := store.CachedVector(e.reader, hash, e.client.Model())
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	if vec != nil {
		return vec, true, nil
	}

	vec, err = e.client.Embed(ctx, text)
	if err != nil {
		return nil, false, err
	}
	return vec, false, nil
}
