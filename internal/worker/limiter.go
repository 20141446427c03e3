package worker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key. URL callers are keyed by host so
// a slow source cannot starve requests to other hosts.
type Limiter struct {
	buckets      map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a limiter; burst <= 0 defaults to 5
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Limiter{
		buckets:      make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
	}
}

// Wait blocks until the host of rawURL has a token available
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host, err := HostKey(rawURL)
	if err != nil {
		return err
	}
	return l.WaitKey(ctx, host)
}

// WaitKey blocks until key has a token available
func (l *Limiter) WaitKey(ctx context.Context, key string) error {
	return l.bucket(key).Wait(ctx)
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	b = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.buckets[key] = b
	return b
}

// SetRate overrides the rate for one key. Tokens already in the bucket are
// kept, so repeated calls with the same rate do not reset the bucket.
func (l *Limiter) SetRate(key string, requestsPerSecond float64, burst int) {
	if burst <= 0 {
		burst = l.defaultBurst
	}
	b := l.bucket(key)
	b.SetLimit(rate.Limit(requestsPerSecond))
	b.SetBurst(burst)
}

// HostKey returns the lower-cased host of rawURL
func HostKey(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return strings.ToLower(parsed.Host), nil
}

// CrawlDelay slows the host of rawURL to one request per delay, such as a
// robots.txt crawl delay. A delay that is faster than the default rate is
// ignored.
func (l *Limiter) CrawlDelay(rawURL string, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	host, err := HostKey(rawURL)
	if err != nil {
		return err
	}
	if limit := rate.Every(delay); limit < l.defaultRate {
		l.SetRate(host, float64(limit), 1)
	}
	return nil
}
