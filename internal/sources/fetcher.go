package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/ppiankov/claimgate/internal/cache"
	"github.com/ppiankov/claimgate/internal/extract"
	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/resilience"
	"github.com/ppiankov/claimgate/internal/worker"
)

// ErrDisallowed is returned when robots.txt forbids fetching a source
var ErrDisallowed = errors.New("disallowed by robots.txt")

// StatusError is a non-2xx response from a source
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Code)
}

// Fetcher downloads cited source pages and reduces them to visible text
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	robots    *RobotsChecker
	limiter   *worker.Limiter
	retrier   *resilience.Retrier
	authority *AuthorityClassifier
	pages     cache.Cache
	pageTTL   time.Duration
	logger    *zap.Logger
}

// NewFetcher creates a fetcher from the sources config. pages may be nil.
func NewFetcher(cfg model.SourcesConfig, retrier *resilience.Retrier, pages cache.Cache, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 2 << 20
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy),
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("stopped after 5 redirects")
			}
			return nil
		},
	}

	f := &Fetcher{
		client:    client,
		userAgent: cfg.UserAgent,
		maxBytes:  maxBytes,
		limiter:   worker.NewLimiter(cfg.RequestsPerSecond, cfg.Burst),
		retrier:   retrier,
		authority: NewAuthorityClassifier(&cfg.Authority),
		pages:     pages,
		pageTTL:   time.Hour,
		logger:    logger,
	}
	if cfg.RespectRobots {
		f.robots = NewRobotsChecker(cfg.UserAgent, client)
	}
	if f.retrier == nil {
		f.retrier = resilience.NewRetrier(resilience.DefaultPolicy(), nil)
	}
	return f
}

// Fetch returns the visible text of rawURL. Cached pages skip the network.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*model.SourcePage, error) {
	key := cache.Key("page", rawURL)
	if f.pages == nil {
		return f.fetch(ctx, rawURL)
	}
	return cache.ReadThrough(ctx, f.pages, key, f.pageTTL, func(ctx context.Context) (*model.SourcePage, error) {
		return f.fetch(ctx, rawURL)
	})
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*model.SourcePage, error) {
	if f.robots != nil {
		allowed, crawlDelay, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, ErrDisallowed)
		}
		if err := f.limiter.CrawlDelay(rawURL, crawlDelay); err != nil {
			return nil, err
		}
	}

	return resilience.Call(ctx, f.retrier, "fetch source", func(ctx context.Context) (*model.SourcePage, error) {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
		return f.get(ctx, rawURL)
	})
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*model.SourcePage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, model.NewNotFound("source", rawURL)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, resilience.Permanent(&StatusError{URL: rawURL, Code: resp.StatusCode})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	finalURL := resp.Request.URL.String()
	page := &model.SourcePage{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode,
		Authority:  f.authority.Classify(finalURL),
		FetchedAt:  time.Now().UTC(),
	}

	content := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") || extract.LooksLikeHTML(content) {
		page.Title = pageTitle(content)
		text, err := extract.VisibleText(content)
		if err != nil {
			return nil, resilience.Permanent(fmt.Errorf("parse html: %w", err))
		}
		page.Text = text
	} else {
		page.Text = strings.TrimSpace(content)
	}

	f.logger.Debug("fetched source",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.String("authority", page.Authority.String()))
	return page, nil
}

func pageTitle(content string) string {
	z := html.NewTokenizer(strings.NewReader(content))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) == "title" && z.Next() == html.TextToken {
				return strings.Join(strings.Fields(string(z.Text())), " ")
			}
		}
	}
}

// ExcerptResolver turns citations into candidate excerpts, fetching the
// source text for citations that only carry a URL
type ExcerptResolver struct {
	fetcher   *Fetcher // nil disables fetching
	authority *AuthorityClassifier
	logger    *zap.Logger
}

// NewExcerptResolver creates a resolver; fetcher may be nil
func NewExcerptResolver(fetcher *Fetcher, authority *AuthorityClassifier, logger *zap.Logger) *ExcerptResolver {
	if authority == nil {
		authority = NewAuthorityClassifier(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExcerptResolver{fetcher: fetcher, authority: authority, logger: logger}
}

// Resolve returns one excerpt per usable citation. Sources that are gone or
// disallowed are skipped; an exhausted retry budget is returned as an error.
func (r *ExcerptResolver) Resolve(ctx context.Context, citations []model.Citation) ([]model.Excerpt, error) {
	excerpts := make([]model.Excerpt, 0, len(citations))
	for _, c := range citations {
		ex := model.Excerpt{
			Text:       c.Excerpt,
			Title:      c.Title,
			Identifier: c.Identifier(),
			Authority:  r.authority.ClassifyCitation(c),
		}

		if ex.Text == "" {
			if c.URL == "" || r.fetcher == nil {
				continue
			}
			page, err := r.fetcher.Fetch(ctx, c.URL)
			if err != nil {
				var timeout *model.ExternalTimeoutError
				if errors.As(err, &timeout) || ctx.Err() != nil {
					return nil, err
				}
				r.logger.Warn("skipping unavailable source", zap.String("citation", c.Key), zap.String("url", c.URL), zap.Error(err))
				continue
			}
			ex.Text = page.Text
			if ex.Title == "" {
				ex.Title = page.Title
			}
			if c.DOI == "" {
				ex.Authority = page.Authority
			}
		}

		if strings.TrimSpace(ex.Text) != "" {
			excerpts = append(excerpts, ex)
		}
	}
	return excerpts, nil
}

// CitationsFor selects the citations a claim is checked against: those it
// references by key, or every citation of its section when it names none
func CitationsFor(claim model.Claim, citations []model.Citation) []model.Citation {
	if len(claim.CitationKeys) > 0 {
		byKey := make(map[string]model.Citation, len(citations))
		for _, c := range citations {
			byKey[strings.ToLower(c.Key)] = c
		}
		var out []model.Citation
		for _, k := range claim.CitationKeys {
			if c, ok := byKey[strings.ToLower(k)]; ok {
				out = append(out, c)
			}
		}
		return out
	}

	var out []model.Citation
	for _, c := range citations {
		if c.Section == "" || strings.EqualFold(c.Section, claim.Section) {
			out = append(out, c)
		}
	}
	return out
}
