package state

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ProfileCache memoises compact profile lookups for message and friend list
// rendering. Entries expire after a short TTL so nickname and avatar edits
// become visible without an explicit invalidation path.
type ProfileCache struct {
	store *Storage
	cache *ttlcache.Cache[string, ProfileRef]
}

func NewProfileCache(store *Storage, ttl time.Duration) *ProfileCache {
	c := ttlcache.New[string, ProfileRef](
		ttlcache.WithTTL[string, ProfileRef](ttl),
		ttlcache.WithDisableTouchOnHit[string, ProfileRef](),
	)
	go c.Start()
	return &ProfileCache{
		store: store,
		cache: c,
	}
}

// Lookup returns compact profiles for the given user ids, keyed by id. Ids
// with no profile row are absent from the result. Cached entries are served
// without touching the database; misses are batch-loaded in one query.
func (p *ProfileCache) Lookup(userIDs []string) (map[string]ProfileRef, error) {
	result := make(map[string]ProfileRef, len(userIDs))
	var missing []string
	for _, id := range userIDs {
		if item := p.cache.Get(id); item != nil {
			result[id] = item.Value()
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}
	loaded, err := p.store.ProfilesByUserIDs(missing)
	if err != nil {
		return nil, err
	}
	for id, ref := range loaded {
		p.cache.Set(id, ref, ttlcache.DefaultTTL)
		result[id] = ref
	}
	return result, nil
}

// Invalidate drops the cached entry after a profile edit so the writer sees
// their own change immediately.
func (p *ProfileCache) Invalidate(userID string) {
	p.cache.Delete(userID)
}

func (p *ProfileCache) Stop() {
	p.cache.Stop()
}
