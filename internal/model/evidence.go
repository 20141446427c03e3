package model

import "time"

// Citation is a cited external source attached to a manuscript
type Citation struct {
	Key     string `json:"key" yaml:"key"`                             // Marker used in text, e.g. "smith2021" for [smith2021]
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`     // Source title
	DOI     string `json:"doi,omitempty" yaml:"doi,omitempty"`         // Digital object identifier
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`         // Where the excerpt can be fetched
	Excerpt string `json:"excerpt,omitempty" yaml:"excerpt,omitempty"` // Quoted passage, if supplied
	Section string `json:"section,omitempty" yaml:"section,omitempty"` // Section the citation belongs to (empty = all)
}

// Identifier returns the most specific identifier available
func (c Citation) Identifier() string {
	switch {
	case c.DOI != "":
		return "doi:" + c.DOI
	case c.URL != "":
		return c.URL
	default:
		return c.Key
	}
}

// Excerpt is a candidate passage a claim is compared against
type Excerpt struct {
	Text       string        `json:"text"`
	Title      string        `json:"title,omitempty"`
	Identifier string        `json:"identifier,omitempty"`
	Authority  AuthorityTier `json:"authority,omitempty"`
}

// AuthorityTier represents the classification of source authority
type AuthorityTier int

const (
	TierUnknown   AuthorityTier = 0 // Not yet classified
	TierPrimary   AuthorityTier = 1 // Journals, registries, government health agencies
	TierSecondary AuthorityTier = 2 // Preprint servers, encyclopedias, reputable media
	TierTertiary  AuthorityTier = 3 // Blogs, personal websites
)

func (t AuthorityTier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierSecondary:
		return "secondary"
	case TierTertiary:
		return "tertiary"
	default:
		return "unknown"
	}
}

// SourcePage is a fetched cited source
type SourcePage struct {
	URL        string        `json:"url"`
	FinalURL   string        `json:"final_url,omitempty"`
	Title      string        `json:"title,omitempty"`
	Text       string        `json:"text"`
	StatusCode int           `json:"status_code"`
	Authority  AuthorityTier `json:"authority"`
	FetchedAt  time.Time     `json:"fetched_at"`
}
