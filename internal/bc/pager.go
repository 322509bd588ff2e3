package bc

import (
	"context"
	"encoding/json"
)

// Cursor is the server-supplied continuation reference for a paginated
// collection. An empty NextLink means the sequence is exhausted.
type Cursor struct {
	NextLink string
	HasMore  bool
}

// Pager walks a paginated BC collection by following @odata.nextLink. The
// sequence is lazy and finite; it cannot be restarted mid-stream — a fresh
// List call always begins at page one.
type Pager struct {
	client *Client
	cursor Cursor
}

// List opens a pager over the given collection URL.
func (c *Client) List(url string) *Pager {
	return &Pager{client: c, cursor: Cursor{NextLink: url, HasMore: true}}
}

type listPage struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// HasMore reports whether another page can be fetched.
func (p *Pager) HasMore() bool {
	return p.cursor.HasMore
}

// Next fetches the next page of raw entities. Pages are fetched sequentially;
// the continuation reference is opaque and cannot be parallelized.
func (p *Pager) Next(ctx context.Context) ([]json.RawMessage, error) {
	if !p.cursor.HasMore {
		return nil, nil
	}
	var page listPage
	if err := p.client.get(ctx, p.cursor.NextLink, &page); err != nil {
		return nil, err
	}
	p.cursor = Cursor{NextLink: page.NextLink, HasMore: page.NextLink != ""}
	return page.Value, nil
}

// collect drains a pager, decoding every entity into a slice of T.
func collect[T any](ctx context.Context, pager *Pager) ([]T, error) {
	var result []T
	for pager.HasMore() {
		raw, err := pager.Next(ctx)
		if err != nil {
			return nil, err
		}
		for _, entity := range raw {
			var decoded T
			if err := json.Unmarshal(entity, &decoded); err != nil {
				return nil, err
			}
			result = append(result, decoded)
		}
	}
	return result, nil
}
