package core

import "time"

// FetchRecord is one outbound fetch as stored in the fetch log.
type FetchRecord struct {
	ID          string    `json:"id" yaml:"id"`
	Method      string    `json:"method" yaml:"method"`
	URL         string    `json:"url" yaml:"url"`
	FinalURL    string    `json:"final_url,omitempty" yaml:"final_url,omitempty"`
	Status      int       `json:"status" yaml:"status"`
	ContentType string    `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	BodyBytes   int       `json:"body_bytes" yaml:"body_bytes"`
	Title       string    `json:"title,omitempty" yaml:"title,omitempty"`
	Excerpt     string    `json:"excerpt,omitempty" yaml:"excerpt,omitempty"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms" yaml:"duration_ms"`
	FetchedAt   time.Time `json:"fetched_at" yaml:"fetched_at"`
}

// Succeeded reports whether the fetch produced a 2xx response.
func (r FetchRecord) Succeeded() bool {
	return r.Error == "" && r.Status >= 200 && r.Status < 300
}

// Page is a validated page/per_page pair.
type Page struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// Offset returns the number of rows preceding the page.
func (p Page) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// FetchPage is one page of the fetch log.
type FetchPage struct {
	Items   []FetchRecord `json:"items"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}
