package classification

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Lookup resolves an account handle to its group type. An empty string with
// a nil error means the handle is not classified.
type Lookup interface {
	GroupTypeFor(ctx context.Context, handle string) (string, error)
}

// Cache memoizes group type lookups with a size bound and a TTL. Unknown
// handles are cached too; lookup errors are not.
type Cache struct {
	lookup Lookup
	lru    *expirable.LRU[string, string]
	group  singleflight.Group
}

// NewCache wraps lookup. size and ttl must be positive.
func NewCache(lookup Lookup, size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 512
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		lookup: lookup,
		lru:    expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// GroupTypeFor returns the cached group type for handle, consulting the
// underlying lookup on a miss. Concurrent misses for one handle share a call.
func (c *Cache) GroupTypeFor(ctx context.Context, handle string) (string, error) {
	key := normalizeHandle(handle)
	if key == "" {
		return "", nil
	}

	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		groupType, err := c.lookup.GroupTypeFor(ctx, key)
		if err != nil {
			return "", err
		}
		c.lru.Add(key, groupType)
		return groupType, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Len returns the number of cached handles.
func (c *Cache) Len() int {
	return c.lru.Len()
}

func normalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}
