package mapping

import (
	"context"

	"issuesync/internal/remote"
)

// mappedClient applies a Mapper around a remote client: search results are
// translated to local property names, outbound updates back to remote
// field names.
type mappedClient struct {
	inner  remote.Client
	mapper *Mapper
}

// WrapClient decorates a remote client with field mapping. A nil mapper
// returns the client unchanged.
func WrapClient(inner remote.Client, m *Mapper) remote.Client {
	if m == nil {
		return inner
	}
	return &mappedClient{inner: inner, mapper: m}
}

func (c *mappedClient) Search(ctx context.Context, q remote.Query, page remote.Page) (*remote.SearchResult, error) {
	res, err := c.inner.Search(ctx, q, page)
	if err != nil {
		return nil, err
	}
	for _, rec := range res.Records {
		rec.Fields = c.mapper.ToLocal(rec.Fields)
	}
	return res, nil
}

func (c *mappedClient) Update(ctx context.Context, key string, fields map[string]any) error {
	return c.inner.Update(ctx, key, c.mapper.ToRemote(fields))
}
