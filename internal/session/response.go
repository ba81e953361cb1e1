package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Response is an immutable snapshot of an HTTP response.
type Response struct {
	Status int
	URL    *url.URL
	Header http.Header
	Body   string
}

func newResponse(status int, finalURL *url.URL, header http.Header, body string) *Response {
	var u *url.URL
	if finalURL != nil {
		copied := *finalURL
		u = &copied
	}
	return &Response{
		Status: status,
		URL:    u,
		Header: header.Clone(),
		Body:   body,
	}
}

// String implements fmt.Stringer.
func (r *Response) String() string {
	if r == nil {
		return "<Response nil>"
	}
	return fmt.Sprintf("<Response status: %d; url: %s; body: %s>", r.Status, r.urlString(), r.Body)
}

// Text returns the body with surrounding whitespace removed.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Body)
}

// DeserializeJSON parses the trimmed body into generic Go values.
func (r *Response) DeserializeJSON() (any, error) {
	var value any
	if err := r.DecodeJSON(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// DecodeJSON parses the trimmed body into v.
func (r *Response) DecodeJSON(v any) error {
	body := r.Text()
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return &DecodeError{Body: body, Err: err}
	}
	return nil
}

// Document parses the body as HTML.
func (r *Response) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html from %s: %w", r.urlString(), err)
	}
	if r.URL != nil {
		doc.Url = r.URL
	}
	return doc, nil
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

func (r *Response) urlString() string {
	if r == nil || r.URL == nil {
		return ""
	}
	return r.URL.String()
}
