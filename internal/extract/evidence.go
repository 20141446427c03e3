package extract

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/ppiankov/claimgate/internal/model"
	"golang.org/x/net/html"
)

// CitationExtractor extracts cited sources from HTML manuscript sections
type CitationExtractor struct{}

// NewCitationExtractor creates a new citation extractor
func NewCitationExtractor() *CitationExtractor {
	return &CitationExtractor{}
}

// Extract returns one citation per distinct outbound link. The key comes from
// a data-cite attribute, then the element id, then a positional "ref-N".
func (e *CitationExtractor) Extract(htmlContent, section, baseURL string) ([]model.Citation, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}

	var base *url.URL
	if baseURL != "" {
		if base, err = url.Parse(baseURL); err != nil {
			return nil, err
		}
	}

	var citations []model.Citation
	var walk func(*html.Node)

	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href, key, title := "", "", ""
			for _, attr := range n.Attr {
				switch attr.Key {
				case "href":
					href = strings.TrimSpace(attr.Val)
				case "data-cite":
					key = strings.TrimSpace(attr.Val)
				case "id":
					if key == "" {
						key = strings.TrimSpace(attr.Val)
					}
				case "title":
					title = strings.TrimSpace(attr.Val)
				}
			}
			if title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}

			if resolved := resolveURL(base, href); resolved != "" {
				if key == "" {
					key = fmt.Sprintf("ref-%d", len(citations)+1)
				}
				citations = append(citations, model.Citation{
					Key:     key,
					Title:   title,
					URL:     resolved,
					DOI:     doiFromURL(resolved),
					Section: section,
				})
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(doc)

	return dedupeCitations(citations), nil
}

// resolveURL resolves href against base, keeping only http(s) links
func resolveURL(base *url.URL, href string) string {
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	if strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := parsed
	if base != nil {
		resolved = base.ResolveReference(parsed)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}

	return resolved.String()
}

// doiFromURL returns the DOI embedded in a doi.org link
func doiFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(parsed.Host, "dx.")
	if host != "doi.org" {
		return ""
	}
	return strings.TrimPrefix(parsed.Path, "/")
}

// MergeCitations appends the linked citations to the declared ones. A link
// to a URL that is already cited is dropped. A key that is already taken
// is qualified with the link's section.
func MergeCitations(declared, linked []model.Citation) []model.Citation {
	out := slices.Clone(declared)
	urls := make(map[string]bool, len(out))
	keys := make(map[string]bool, len(out))
	for _, c := range out {
		if c.URL != "" {
			urls[c.URL] = true
		}
		keys[c.Key] = true
	}
	for _, c := range linked {
		if urls[c.URL] {
			continue
		}
		if keys[c.Key] {
			c.Key = c.Section + ":" + c.Key
		}
		urls[c.URL] = true
		keys[c.Key] = true
		out = append(out, c)
	}
	return out
}

func dedupeCitations(citations []model.Citation) []model.Citation {
	seen := make(map[string]bool)
	var unique []model.Citation

	for _, c := range citations {
		if !seen[c.URL] {
			seen[c.URL] = true
			unique = append(unique, c)
		}
	}

	return unique
}
