package sources

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/ppiankov/claimgate/internal/model"
)

// AuthorityClassifier assigns cited sources to authority tiers
type AuthorityClassifier struct {
	domainMap    map[string]model.AuthorityTier
	primary      []string
	secondary    []string
	pathPatterns []compiledPattern
}

type compiledPattern struct {
	pattern *regexp.Regexp
	tier    model.AuthorityTier
}

// NewAuthorityClassifier creates a classifier; nil config uses the defaults
func NewAuthorityClassifier(config *model.AuthorityConfig) *AuthorityClassifier {
	if config == nil {
		def := model.DefaultAuthorityConfig()
		config = &def
	}

	c := &AuthorityClassifier{
		domainMap: make(map[string]model.AuthorityTier, len(config.DomainMap)),
		primary:   normalizeDomains(config.PrimaryDomains),
		secondary: normalizeDomains(config.SecondaryDomains),
	}
	for host, tier := range config.DomainMap {
		c.domainMap[strings.ToLower(host)] = ParseTier(tier)
	}
	for _, pp := range config.PathPatterns {
		// Invalid patterns are skipped; config validation reports them
		if re, err := regexp.Compile(pp.Pattern); err == nil {
			c.pathPatterns = append(c.pathPatterns, compiledPattern{pattern: re, tier: ParseTier(pp.Tier)})
		}
	}
	return c
}

// ClassifyCitation prefers the DOI: anything with a DOI is a primary record
func (a *AuthorityClassifier) ClassifyCitation(c model.Citation) model.AuthorityTier {
	if c.DOI != "" {
		return model.TierPrimary
	}
	if c.URL == "" {
		return model.TierUnknown
	}
	return a.Classify(c.URL)
}

// Classify classifies a URL into an authority tier
func (a *AuthorityClassifier) Classify(rawURL string) model.AuthorityTier {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return model.TierTertiary
	}
	host := strings.ToLower(parsed.Hostname())

	if tier, ok := a.domainMap[host]; ok {
		return tier
	}
	if matchesDomain(host, a.primary) {
		return model.TierPrimary
	}
	if matchesDomain(host, a.secondary) {
		return model.TierSecondary
	}
	for _, cp := range a.pathPatterns {
		if cp.pattern.MatchString(parsed.Path) {
			return cp.tier
		}
	}

	// Government and academic hosts
	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu") || strings.HasSuffix(host, ".ac.uk") {
		return model.TierPrimary
	}

	return model.TierTertiary
}

func matchesDomain(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// ParseTier converts a tier name or number to AuthorityTier
func ParseTier(tier string) model.AuthorityTier {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "primary", "1":
		return model.TierPrimary
	case "secondary", "2":
		return model.TierSecondary
	default:
		return model.TierTertiary
	}
}
