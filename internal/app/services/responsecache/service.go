// Package responsecache implements the Response Cache (C6): fingerprinted
// memoization of upstream generate calls with single-flight de-duplication
// and a two-level (in-process + external) backing store.
package responsecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"

	core "github.com/playforge-studio/modelplane/internal/app/core/service"
	"github.com/playforge-studio/modelplane/infrastructure/cache"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

const (
	defaultTTL           = time.Hour
	maxCachedTextLength  = 8192
)

// cachedResponse is the stored record for one fingerprint.
type cachedResponse struct {
	Text      string
	Optimized bool
	StoredAt  time.Time
}

// Service memoizes generate calls by fingerprint. The zero value is not
// usable; construct with New.
type Service struct {
	layer1 *cache.TTLCache
	redis  *redis.Client
	group  singleflight.Group
	ttl    time.Duration
	log    *logger.Logger

	mu         sync.Mutex
	total      int64
	hits       int64
	misses     int64
	latencySum time.Duration
	latencyMin time.Duration
	latencyMax time.Duration
}

// New constructs a Response Cache. redisClient may be nil, in which case
// the cache operates on its in-process L1 only — the component "does not
// assume exclusive ownership" of an external store per spec.md §4.6, so a
// nil L2 is a legitimate deployment mode, not a degraded one.
func New(redisClient *redis.Client, ttl time.Duration, log *logger.Logger) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log == nil {
		log = logger.NewDefault("responsecache")
	}
	return &Service{
		layer1: cache.NewTTLCache(ttl),
		redis:  redisClient,
		ttl:    ttl,
		log:    log,
	}
}

// Optimize implements the fingerprinted lookup-or-generate-and-store path.
// Concurrent calls sharing the same (layer, prompt, context) fingerprint
// collapse into a single call to generate via singleflight; the others
// receive the same result.
func (s *Service) Optimize(ctx context.Context, layer, prompt string, reqContext map[string]interface{}, generate func(ctx context.Context) (string, error)) (string, bool, error) {
	start := time.Now()
	key := fingerprint(layer, prompt, reqContext)

	result, err, _ := s.group.Do(key, func() (interface{}, error) {
		if entry, ok := s.lookup(ctx, key); ok {
			return entry, nil
		}

		text, err := generate(ctx)
		if err != nil {
			return nil, err
		}

		entry := cachedResponse{
			Text:      truncate(text, maxCachedTextLength),
			Optimized: true,
			StoredAt:  start,
		}
		s.store(ctx, key, entry)
		return entry, nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	elapsed := time.Since(start)
	s.latencySum += elapsed
	if s.latencyMin == 0 || elapsed < s.latencyMin {
		s.latencyMin = elapsed
	}
	if elapsed > s.latencyMax {
		s.latencyMax = elapsed
	}

	if err != nil {
		s.misses++
		return "", false, err
	}

	entry := result.(cachedResponse)
	cached := entry.StoredAt.Before(start)
	if cached {
		s.hits++
	} else {
		s.misses++
	}
	return entry.Text, cached, nil
}

func (s *Service) lookup(ctx context.Context, key string) (cachedResponse, bool) {
	if v, ok := s.layer1.Get(ctx, key); ok {
		if entry, ok := v.(cachedResponse); ok {
			return entry, true
		}
	}
	if s.redis == nil {
		return cachedResponse{}, false
	}
	raw, err := s.redis.Get(ctx, redisKey(key)).Result()
	if err != nil {
		return cachedResponse{}, false
	}
	entry := cachedResponse{Text: raw, Optimized: true, StoredAt: time.Now().Add(-time.Second)}
	s.layer1.Set(ctx, key, entry)
	return entry, true
}

func (s *Service) store(ctx context.Context, key string, entry cachedResponse) {
	s.layer1.Set(ctx, key, entry)
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, redisKey(key), entry.Text, s.ttl).Err(); err != nil {
		s.log.WithField("error", err).Warn("failed to write response cache L2 entry")
	}
}

func redisKey(fp string) string {
	return "responsecache:" + fp
}

// Clear invalidates the entire L1 generation whatever layer is given:
// fingerprints don't carry the layer in cleartext, so entries cannot be
// evicted per layer. L2 entries are left to expire by TTL.
func (s *Service) Clear(_ context.Context, _ string) {
	s.layer1.InvalidateAll()
}

// Metrics reports cumulative cache performance.
type Metrics struct {
	Total      int64
	Hits       int64
	Misses     int64
	HitRate    float64
	AvgLatency time.Duration
	MinLatency time.Duration
	MaxLatency time.Duration
}

// Metrics returns a snapshot of cumulative cache performance.
func (s *Service) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{
		Total:      s.total,
		Hits:       s.hits,
		Misses:     s.misses,
		MinLatency: s.latencyMin,
		MaxLatency: s.latencyMax,
	}
	if s.total > 0 {
		m.HitRate = float64(s.hits) / float64(s.total)
		m.AvgLatency = s.latencySum / time.Duration(s.total)
	}
	return m
}

// fingerprint computes a stable hash over layer, prompt, and a
// deterministically-ordered serialization of context, per spec.md §4.6's
// "hash(layer, prompt, normalized_context)" definition.
func fingerprint(layer, prompt string, reqContext map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(layer))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(normalizeContext(reqContext)))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeContext(ctx map[string]interface{}) string {
	if len(ctx) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		fmt.Fprintf(&sb, "%v", ctx[k])
		sb.WriteByte(';')
	}
	return sb.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "responsecache",
		Domain:       "model_management",
		Layer:        core.LayerAdapter,
		Capabilities: []string{"optimize", "clear", "metrics"},
	}
}
