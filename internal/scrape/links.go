package scrape

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultResults matches the result titles of a Google custom search box.
const DefaultResults = ".gsc-result .gs-title"

// Link is one scraped search result.
type Link struct {
	Title string `json:"title"`
	Href  string `json:"href"`
}

func (l Link) String() string {
	return l.Title + " - " + l.Href
}

// ExtractLinks returns every element of doc matching selector, in document
// order. The title is the element text up to the first "|". The href comes
// from the element itself or its first link descendant and is resolved
// against base.
func ExtractLinks(doc, base, selector string) ([]Link, error) {
	root, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parsing results page: %w", err)
	}

	var baseURL *url.URL
	if base != "" {
		if baseURL, err = url.Parse(base); err != nil {
			return nil, fmt.Errorf("parsing page url %q: %w", base, err)
		}
	}

	var links []Link
	root.Find(selector).Each(func(_ int, s *goquery.Selection) {
		title, _, _ := strings.Cut(s.Text(), "|")
		links = append(links, Link{
			Title: strings.TrimSpace(title),
			Href:  resolve(baseURL, href(s)),
		})
	})
	return links, nil
}

func href(s *goquery.Selection) string {
	if h, ok := s.Attr("href"); ok {
		return h
	}
	h, _ := s.Find("a[href]").First().Attr("href")
	return h
}

func resolve(base *url.URL, h string) string {
	h = strings.TrimSpace(h)
	if h == "" || base == nil {
		return h
	}
	u, err := base.Parse(h)
	if err != nil {
		return h
	}
	return u.String()
}
