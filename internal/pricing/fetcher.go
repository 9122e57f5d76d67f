package pricing

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/patrickmn/go-cache"
)

const maxTableSize = 1 << 20

// Fetcher downloads pricing tables over HTTP and keeps them for ttl.
type Fetcher struct {
	client *http.Client
	cache  *cache.Cache
}

func NewFetcher(client *http.Client, ttl time.Duration) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Fetcher{
		client: client,
		cache:  cache.New(ttl, 2*ttl),
	}
}

// Fetch returns the table at url layered over the built-in table.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Table, error) {
	if cached, ok := f.cache.Get(url); ok {
		return cached.(*Table), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build pricing request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch pricing table %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetch pricing table %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTableSize))
	if err != nil {
		return nil, errors.Wrap(err, "read pricing table")
	}

	t, err := Overlay(body)
	if err != nil {
		return nil, errors.Wrapf(err, "pricing table %s", url)
	}

	f.cache.SetDefault(url, t)
	return t, nil
}
