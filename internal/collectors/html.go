package collectors

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

var (
	bareURLPattern = regexp.MustCompile(`https?://[^\s"'<>\])]+`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

func parseHTML(body []byte) *html.Node {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	return doc
}

func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if n == nil {
		return true
	}
	if !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		return true
	})
	return strings.TrimSpace(spacePattern.ReplaceAllString(b.String(), " "))
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// pageTitle returns the <title> text and whether the page has one.
func pageTitle(body []byte) (string, bool) {
	var (
		title string
		found bool
	)
	walk(parseHTML(body), func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			title, found = nodeText(n), true
			return false
		}
		return true
	})
	return title, found
}

// metaContent returns the content of the first <meta> whose name or
// property matches one of keys.
func metaContent(body []byte, keys ...string) string {
	var content string
	walk(parseHTML(body), func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.DataAtom != atom.Meta {
			return true
		}
		for _, k := range keys {
			if strings.EqualFold(attr(n, "name"), k) || strings.EqualFold(attr(n, "property"), k) {
				content = strings.TrimSpace(attr(n, "content"))
				return false
			}
		}
		return true
	})
	return content
}

// textByClass returns the text of the first element carrying class.
func textByClass(body []byte, class string) string {
	var text string
	walk(parseHTML(body), func(n *html.Node) bool {
		if n.Type == html.ElementNode && hasClass(n, class) {
			text = nodeText(n)
			return false
		}
		return true
	})
	return text
}

// pageLinks returns absolute http(s) links found in anchors and in the
// visible text, in document order, without duplicates.
func pageLinks(body []byte) []string {
	var links []string
	walk(parseHTML(body), func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if href := attr(n, "href"); strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
				links = append(links, href)
			}
		}
		return true
	})
	links = append(links, bareURLPattern.FindAllString(string(body), -1)...)
	return utils.RemoveDuplicates(links)
}

// resultLinks extracts outbound result URLs from a search-engine page,
// unwrapping /url?q= redirects.
func resultLinks(body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return utils.RemoveDuplicates(bareURLPattern.FindAllString(string(body), -1))
	}
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if strings.HasPrefix(href, "/url?") {
			if u, err := url.Parse(href); err == nil {
				href = u.Query().Get("q")
			}
		}
		if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
			links = append(links, href)
		}
	})
	links = append(links, bareURLPattern.FindAllString(string(body), -1)...)
	return utils.RemoveDuplicates(links)
}

// documentText is the page's visible text with whitespace collapsed.
func documentText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return spacePattern.ReplaceAllString(string(body), " ")
	}
	doc.Find("script, style").Remove()
	return strings.TrimSpace(spacePattern.ReplaceAllString(doc.Text(), " "))
}

// snippetFrom returns up to n bytes of text starting at the first
// occurrence of needle.
func snippetFrom(text, needle string, n int) string {
	idx := strings.Index(text, needle)
	if idx < 0 {
		if lower := strings.ToLower(text); len(lower) == len(text) {
			idx = strings.Index(lower, strings.ToLower(needle))
		}
	}
	if idx < 0 {
		idx = 0
	}
	end := idx + n
	if end > len(text) {
		end = len(text)
	}
	return strings.ToValidUTF8(text[idx:end], "")
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func firstN(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}
