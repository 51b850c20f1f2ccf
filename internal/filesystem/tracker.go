package filesystem

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// AccessRecord describes reads of one path within the tracking window.
type AccessRecord struct {
	Path     string    `json:"path"`
	Reads    int64     `json:"reads"`
	LastRead time.Time `json:"lastRead"`
}

type accessCounter struct {
	reads atomic.Int64
	last  atomic.Int64 // unix nanoseconds
}

// accessTracker keeps a record of recently read paths for diagnostics.
// Records expire once a path was not read anymore for the tracker's TTL.
// Expired records are pruned on every touch and every request of records.
// A nil [accessTracker] is valid and tracks nothing.
type accessTracker struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *accessCounter]
}

func newAccessTracker(ttl time.Duration) *accessTracker {
	if ttl <= 0 {
		return nil
	}

	return &accessTracker{
		cache: ttlcache.New(ttlcache.WithTTL[string, *accessCounter](ttl)),
	}
}

// Touch records a read of the given path, refreshing its expiry.
func (t *accessTracker) Touch(path string) {
	if t == nil {
		return
	}

	t.mu.Lock()
	t.cache.DeleteExpired()
	item := t.cache.Get(path)
	if item == nil {
		item = t.cache.Set(path, &accessCounter{}, ttlcache.DefaultTTL)
	}
	t.mu.Unlock()

	c := item.Value()
	c.reads.Add(1)
	c.last.Store(time.Now().UnixNano())
}

// Records returns all unexpired records, most read first.
func (t *accessTracker) Records() []AccessRecord {
	if t == nil {
		return []AccessRecord{}
	}

	t.cache.DeleteExpired()

	items := t.cache.Items()
	out := make([]AccessRecord, 0, len(items))

	for path, item := range items {
		c := item.Value()
		out = append(out, AccessRecord{
			Path:     path,
			Reads:    c.reads.Load(),
			LastRead: time.Unix(0, c.last.Load()),
		})
	}

	slices.SortFunc(out, func(a, b AccessRecord) int {
		if c := cmp.Compare(b.Reads, a.Reads); c != 0 {
			return c
		}

		return strings.Compare(a.Path, b.Path)
	})

	return out
}

// Reset drops all records.
func (t *accessTracker) Reset() {
	if t == nil {
		return
	}
	t.cache.DeleteAll()
}
