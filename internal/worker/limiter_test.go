package worker

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1) // 100 rps, burst 1
	ctx := context.Background()

	url := "http://example.com/foo"
	if err := limiter.Wait(ctx, url); err != nil {
		t.Errorf("wait failed: %v", err)
	}

	// Different domain should also work
	if err := limiter.Wait(ctx, "http://google.com"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

// allow takes a token for the host of rawURL without blocking
func allow(t *testing.T, l *Limiter, rawURL string) bool {
	t.Helper()
	host, err := HostKey(rawURL)
	if err != nil {
		t.Fatalf("HostKey(%q): %v", rawURL, err)
	}
	return l.bucket(host).Allow()
}

func TestLimiter_RateLimit(t *testing.T) {
	limiter := NewLimiter(1, 1)
	ctx := context.Background()
	url := "http://example.com"

	if err := limiter.Wait(ctx, url); err != nil {
		t.Errorf("first wait failed: %v", err)
	}

	// burst 1: the token is gone
	if allow(t, limiter, url) {
		t.Errorf("expected allow to fail (exhausted tokens)")
	}
	if !allow(t, limiter, "http://other.com") {
		t.Errorf("expected allow for other domain")
	}
}

func TestLimiter_SetRate(t *testing.T) {
	limiter := NewLimiter(10, 10)
	domain := "slow.com"

	limiter.SetRate(domain, 0.1, 1)

	if !allow(t, limiter, "http://"+domain) {
		t.Errorf("first request should pass")
	}
	if allow(t, limiter, "http://"+domain) {
		t.Errorf("second request should fail")
	}

	// same rate again must not refill the bucket
	limiter.SetRate(domain, 0.1, 1)
	if allow(t, limiter, "http://"+domain) {
		t.Errorf("repeated SetRate refilled the bucket")
	}

	if !allow(t, limiter, "http://fast.com") {
		t.Errorf("other domain should pass")
	}
}

func TestLimiter_CrawlDelaySpacesRequests(t *testing.T) {
	limiter := NewLimiter(100, 5)
	ctx := context.Background()
	url := "http://example.com/page"

	if err := limiter.CrawlDelay(url, 50*time.Millisecond); err != nil {
		t.Fatalf("CrawlDelay failed: %v", err)
	}

	start := time.Now()
	for range 2 {
		if err := limiter.Wait(ctx, url); err != nil {
			t.Fatalf("wait failed: %v", err)
		}
	}
	if d := time.Since(start); d < 40*time.Millisecond {
		t.Errorf("expected second request to wait for the crawl delay, took %v", d)
	}

	// other hosts keep the default burst
	for i := range 5 {
		if !allow(t, limiter, "http://other.com") {
			t.Fatalf("request %d to other host refused", i)
		}
	}
}

func TestLimiter_CrawlDelayFasterThanDefaultIgnored(t *testing.T) {
	limiter := NewLimiter(1, 3)
	url := "http://example.com"

	if err := limiter.CrawlDelay(url, time.Millisecond); err != nil {
		t.Fatalf("CrawlDelay failed: %v", err)
	}
	for i := range 3 {
		if !allow(t, limiter, url) {
			t.Fatalf("request %d refused: default burst should still apply", i)
		}
	}
	if err := limiter.CrawlDelay("/relative", time.Second); err == nil {
		t.Error("expected error for URL without host")
	}
	if err := limiter.CrawlDelay("/relative", 0); err != nil {
		t.Errorf("zero delay should be a no-op: %v", err)
	}
}

func TestHostKey(t *testing.T) {
	host, err := HostKey("http://Example.com/foo")
	if err != nil {
		t.Fatalf("HostKey failed: %v", err)
	}
	if host != "example.com" {
		t.Errorf("expected example.com, got %s", host)
	}

	if _, err := HostKey("::invalid"); err == nil {
		t.Errorf("expected error for invalid URL")
	}
	if _, err := HostKey("/relative/path"); err == nil {
		t.Errorf("expected error for URL without host")
	}
}

func TestLimiter_WaitKeyCancelled(t *testing.T) {
	limiter := NewLimiter(0.001, 1)
	ctx, cancel := context.WithCancel(context.Background())

	if err := limiter.WaitKey(ctx, "approval-provider"); err != nil {
		t.Fatalf("first wait should use the burst token: %v", err)
	}
	cancel()
	if err := limiter.WaitKey(ctx, "approval-provider"); err == nil {
		t.Error("expected cancelled wait to fail")
	}
}

func TestLimiter_ZeroRateIsUnlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := range 20 {
		if !allow(t, limiter, "http://example.com") {
			t.Fatalf("request %d refused by unlimited limiter", i)
		}
	}
}
