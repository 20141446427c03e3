package extract

import (
	"iter"
	"strings"

	"github.com/ppiankov/claimgate/internal/model"
	"golang.org/x/net/html"
)

// abbreviations that end in a period but do not end a sentence
var abbreviations = []string{"e.g.", "i.e.", "et al.", "vs.", "fig.", "approx.", "ca.", "no.", "cf.", "resp."}

// sentences yields the trimmed span of each sentence in text. A sentence
// ends at '.', '!' or '?' followed by whitespace, or at end of text.
func sentences(text string) iter.Seq[model.TextSpan] {
	return func(yield func(model.TextSpan) bool) {
		start := 0
		emit := func(end int) bool {
			s, e := trimSpan(text, start, end)
			start = end
			if s >= e {
				return true
			}
			return yield(model.TextSpan{Start: s, End: e})
		}

		for i := 0; i < len(text); i++ {
			switch text[i] {
			case '\n':
				// Blank lines separate paragraphs
				if i+1 < len(text) && text[i+1] == '\n' {
					if !emit(i) {
						return
					}
				}
			case '.', '!', '?':
				if i+1 < len(text) && !isSpace(text[i+1]) {
					continue
				}
				if text[i] == '.' && endsWithAbbreviation(text[start:i+1]) {
					continue
				}
				if !emit(i + 1) {
					return
				}
			}
		}
		if start < len(text) {
			emit(len(text))
		}
	}
}

func trimSpan(text string, start, end int) (int, int) {
	for start < end && isSpace(text[start]) {
		start++
	}
	for end > start && isSpace(text[end-1]) {
		end--
	}
	return start, end
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func endsWithAbbreviation(s string) bool {
	lower := strings.ToLower(s)
	for _, a := range abbreviations {
		if strings.HasSuffix(lower, a) {
			// Must be a whole word
			idx := len(lower) - len(a)
			if idx == 0 || isSpace(lower[idx-1]) || lower[idx-1] == '(' {
				return true
			}
		}
	}
	return false
}

// VisibleText extracts readable text from HTML, skipping scripts and styles.
// Block elements become paragraph breaks so sentences do not run together.
func VisibleText(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}
	return extractVisibleText(doc), nil
}

// LooksLikeHTML reports whether s appears to be an HTML fragment
func LooksLikeHTML(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "<") && strings.Contains(t, ">")
}

func extractVisibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "head":
				return
			}
		}

		if n.Type == html.TextNode {
			text := strings.Join(strings.Fields(n.Data), " ")
			if text != "" {
				if buf.Len() > 0 && !strings.HasSuffix(buf.String(), "\n\n") {
					buf.WriteString(" ")
				}
				buf.WriteString(text)
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && isBlock(n.Data) && buf.Len() > 0 && !strings.HasSuffix(buf.String(), "\n\n") {
			buf.WriteString("\n\n")
		}
	}

	walk(n)
	return strings.TrimSpace(buf.String())
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "section", "article", "li", "h1", "h2", "h3", "h4", "h5", "h6", "br", "tr", "blockquote":
		return true
	}
	return false
}
