// Package billing enforces subscription entitlements and per-user usage
// quotas via an external billing service ("Aether"), behind a TTL cache
// and a configurable fail-open/fail-closed policy.
package billing

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	gatewayotel "github.com/omni/beacon-gateway/internal/otel"
)

// FailMode controls what happens when the upstream billing service is
// unreachable.
type FailMode int

const (
	// FailOpen allows the request through on upstream failure.
	FailOpen FailMode = iota
	// FailClosed rejects the request with 503 on upstream failure.
	FailClosed
)

const (
	cacheCapacity     = 1024
	defaultCacheTTL   = 60 * time.Second
	defaultAppID      = "synapse"
	featureAPIAccess  = "api_access"
	meterKeyRequests  = "requests"
)

// Client talks to the upstream billing service. The concrete
// implementation is an external collaborator per spec §1; only its
// interface is owned here.
type Client interface {
	CheckEntitlement(ctx context.Context, entityType, entityID, featureKey string) (bool, error)
	CheckUsage(ctx context.Context, entityType, entityID, meterKey string, quantity float64) (bool, error)
}

// State is the constructed billing subsystem: the upstream client, the
// configured fail mode, and the TTL caches over entitlement/usage
// decisions.
type State struct {
	Client   Client
	FailMode FailMode
	Metrics  *gatewayotel.Metrics
	cache    *cache
}

// FromEnv builds billing State from environment variables. Returns
// (nil, nil) when AETHER_URL is unset — billing is disabled and the
// gate becomes a pass-through. Returns an error for any other
// misconfiguration (spec's Fatal error kind).
func FromEnv(newClient func(baseURL, appID, apiKey string) Client) (*State, error) {
	rawURL := os.Getenv("AETHER_URL")
	if rawURL == "" {
		return nil, nil
	}

	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("AETHER_URL is not a valid URL: %w", err)
	}

	apiKey := os.Getenv("AETHER_SERVICE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("AETHER_SERVICE_API_KEY is required when AETHER_URL is set")
	}

	appID := os.Getenv("AETHER_APP_ID")
	if appID == "" {
		appID = defaultAppID
	}

	failMode := FailOpen
	if os.Getenv("AETHER_FAIL_MODE") == "closed" {
		failMode = FailClosed
	}

	ttl := defaultCacheTTL
	if raw := os.Getenv("AETHER_CACHE_TTL_SECS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			ttl = time.Duration(secs) * time.Second
		}
	}

	return &State{
		Client:   newClient(rawURL, appID, apiKey),
		FailMode: failMode,
		cache:    newCache(ttl, cacheCapacity),
	}, nil
}

type entitlementKey struct{ entityType, entityID, featureKey string }
type usageKey struct{ entityType, entityID, meterKey string }

type cacheEntry struct {
	allowed   bool
	expiresAt time.Time
}

// cache is a TTL-bounded, capacity-limited map shared by the
// entitlement and usage checks, mirroring the moka-style cache the
// original implementation uses for both.
type cache struct {
	mu          sync.Mutex
	ttl         time.Duration
	capacity    int
	entitlement map[entitlementKey]cacheEntry
	usage       map[usageKey]cacheEntry
}

func newCache(ttl time.Duration, capacity int) *cache {
	return &cache{
		ttl:         ttl,
		capacity:    capacity,
		entitlement: make(map[entitlementKey]cacheEntry),
		usage:       make(map[usageKey]cacheEntry),
	}
}

func (c *cache) getEntitlement(entityType, entityID, featureKey string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entitlement[entitlementKey{entityType, entityID, featureKey}]
	if !ok || time.Now().After(e.expiresAt) {
		return false, false
	}
	return e.allowed, true
}

func (c *cache) putEntitlement(entityType, entityID, featureKey string, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entitlement) >= c.capacity {
		evictOldestEntitlement(c.entitlement)
	}
	c.entitlement[entitlementKey{entityType, entityID, featureKey}] = cacheEntry{
		allowed:   allowed,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *cache) getUsage(entityType, entityID, meterKey string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.usage[usageKey{entityType, entityID, meterKey}]
	if !ok || time.Now().After(e.expiresAt) {
		return false, false
	}
	return e.allowed, true
}

func (c *cache) putUsage(entityType, entityID, meterKey string, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.usage) >= c.capacity {
		evictOldestUsage(c.usage)
	}
	c.usage[usageKey{entityType, entityID, meterKey}] = cacheEntry{
		allowed:   allowed,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// PurgeExpired removes every cache entry whose TTL has already
// elapsed. Entries are otherwise only evicted lazily (on lookup) or
// when capacity forces out the oldest, so without this a cache full of
// dead entries can sit until something reuses its slot.
func (s *State) PurgeExpired() (entitlements, usage int) {
	now := time.Now()
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	for k, e := range s.cache.entitlement {
		if now.After(e.expiresAt) {
			delete(s.cache.entitlement, k)
			entitlements++
		}
	}
	for k, e := range s.cache.usage {
		if now.After(e.expiresAt) {
			delete(s.cache.usage, k)
			usage++
		}
	}
	return entitlements, usage
}

func evictOldestEntitlement(m map[entitlementKey]cacheEntry) {
	var oldestKey entitlementKey
	var oldest time.Time
	first := true
	for k, e := range m {
		if first || e.expiresAt.Before(oldest) {
			oldestKey, oldest, first = k, e.expiresAt, false
		}
	}
	if !first {
		delete(m, oldestKey)
	}
}

func evictOldestUsage(m map[usageKey]cacheEntry) {
	var oldestKey usageKey
	var oldest time.Time
	first := true
	for k, e := range m {
		if first || e.expiresAt.Before(oldest) {
			oldestKey, oldest, first = k, e.expiresAt, false
		}
	}
	if !first {
		delete(m, oldestKey)
	}
}
