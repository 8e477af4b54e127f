package ratelimit

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

type Verdict int

const (
	Allow Verdict = iota
	// over the limit; drop the event
	Drop
	// over the limit too many times; drop the connection
	Disconnect
)

// Limiter throttles the inbound events of one connection and counts how
// often it went over the limit. Used from a single read loop.
type Limiter struct {
	limiter       *rate.Limiter
	maxViolations int
	violations    int
}

// A maxViolations of zero never disconnects
func NewLimiter(perSecond float64, burst, maxViolations int) *Limiter {
	return &Limiter{
		limiter:       rate.NewLimiter(rate.Limit(perSecond), burst),
		maxViolations: maxViolations,
	}
}

func (l *Limiter) Check() Verdict {
	if l.limiter.Allow() {
		return Allow
	}
	l.violations++
	if l.maxViolations > 0 && l.violations > l.maxViolations {
		return Disconnect
	}
	return Drop
}

func (l *Limiter) Violations() int {
	return l.violations
}

// KeyedLimiters hands out one limiter per key (a remote host). Limiters idle
// for longer than the ttl are forgotten.
type KeyedLimiters struct {
	limit rate.Limit
	burst int
	cache *ttlcache.Cache[string, *rate.Limiter]
}

func NewKeyedLimiters(perSecond float64, burst int, ttl time.Duration) *KeyedLimiters {
	k := &KeyedLimiters{
		limit: rate.Limit(perSecond),
		burst: burst,
		cache: ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](ttl),
			ttlcache.WithCapacity[string, *rate.Limiter](10000),
		),
	}
	go k.cache.Start()
	return k
}

func (k *KeyedLimiters) Allow(key string) bool {
	if item := k.cache.Get(key); item != nil {
		return item.Value().Allow()
	}
	item, _ := k.cache.GetOrSet(key, rate.NewLimiter(k.limit, k.burst))
	return item.Value().Allow()
}

func (k *KeyedLimiters) Len() int {
	return k.cache.Len()
}

func (k *KeyedLimiters) Stop() {
	k.cache.Stop()
}
