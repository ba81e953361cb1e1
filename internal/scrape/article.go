package scrape

import (
	"errors"
	"fmt"
	"mime"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/ingestkit/ingestkit/internal/session"
)

var reWhitespace = regexp.MustCompile(`\s+`)

// ErrNotHTML is returned when extraction is asked of a non-HTML response.
var ErrNotHTML = errors.New("response is not html")

// Article is the readable content of an HTML page.
type Article struct {
	Title   string   `json:"title" yaml:"title"`
	Excerpt string   `json:"excerpt,omitempty" yaml:"excerpt,omitempty"`
	Text    string   `json:"text" yaml:"text"`
	Links   []string `json:"links,omitempty" yaml:"links,omitempty"`
}

// IsHTML reports whether resp declares an HTML content type. A missing
// Content-Type is sniffed from the body prefix.
func IsHTML(resp *session.Response) bool {
	if resp == nil {
		return false
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		prefix := strings.ToLower(strings.TrimSpace(resp.Body))
		return strings.HasPrefix(prefix, "<!doctype html") || strings.HasPrefix(prefix, "<html")
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// ExtractArticle runs readability over an HTML response and collects the
// absolute links of the original document.
func ExtractArticle(resp *session.Response) (*Article, error) {
	if !IsHTML(resp) {
		return nil, ErrNotHTML
	}

	pageURL := resp.URL
	if pageURL == nil {
		pageURL = &url.URL{}
	}

	article, err := readability.FromReader(strings.NewReader(resp.Body), pageURL)
	if err != nil {
		return nil, fmt.Errorf("readability: %w", err)
	}

	content, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return nil, fmt.Errorf("parse article content: %w", err)
	}
	content.Find("figure, aside, script, style, noscript").Remove()

	text := strings.TrimSpace(reWhitespace.ReplaceAllString(content.Text(), " "))

	doc, err := resp.Document()
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	return &Article{
		Title:   title,
		Excerpt: strings.TrimSpace(article.Excerpt),
		Text:    text,
		Links:   Links(doc, resp.URL),
	}, nil
}

// Links returns the distinct http(s) links in doc resolved against base,
// without fragments, in document order.
func Links(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var links []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		u, err := url.Parse(href)
		if err != nil {
			return
		}
		if base != nil {
			u = base.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		u.Fragment = ""

		link := u.String()
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})

	return links
}
