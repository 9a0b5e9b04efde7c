package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/montage-studio/montage"
	"github.com/montage-studio/montage/internal/domain"
)

// MediaGateway resolves media references against an external media
// service. Lookups are cached; media metadata is immutable in practice so
// a short TTL only bounds memory.
type MediaGateway struct {
	base   string
	client *http.Client
	cache  *cache.Cache
}

func NewMediaGateway(baseURL string, ttl time.Duration) *MediaGateway {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MediaGateway{
		base: baseURL,
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
		cache: cache.New(ttl, 2*ttl),
	}
}

func (g *MediaGateway) Resolve(ctx context.Context, ref string) (montage.MediaInfo, error) {
	if ref == "" {
		return montage.MediaInfo{}, domain.ValidationError{Detail: "media ref is required"}
	}
	if cached, ok := g.cache.Get(ref); ok {
		return cached.(montage.MediaInfo), nil
	}
	if g.base == "" {
		return montage.MediaInfo{}, domain.NotFoundError{Resource: "media"}
	}

	endpoint := fmt.Sprintf("%s/media/%s", g.base, url.PathEscape(ref))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return montage.MediaInfo{}, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return montage.MediaInfo{}, errors.Wrap(err, "querying media resolver")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return montage.MediaInfo{}, domain.NotFoundError{Resource: "media"}
	case resp.StatusCode != http.StatusOK:
		return montage.MediaInfo{}, fmt.Errorf("media resolver returned %d", resp.StatusCode)
	}

	var info montage.MediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return montage.MediaInfo{}, errors.Wrap(err, "decoding media metadata")
	}
	if info.Ref == "" {
		info.Ref = ref
	}

	g.cache.Set(ref, info, cache.DefaultExpiration)
	return info, nil
}
