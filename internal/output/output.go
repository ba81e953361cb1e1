package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/ingestkit/ingestkit/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formatter renders fetch log entries.
type Formatter interface {
	FormatRecords(records []core.FetchRecord) (string, error)
	FormatPage(page core.FetchPage) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func statusLabel(rec core.FetchRecord) string {
	switch {
	case rec.Error != "":
		return "error"
	case rec.Status == 0:
		return "-"
	default:
		return fmt.Sprintf("%d", rec.Status)
	}
}

func displayURL(rec core.FetchRecord) string {
	if rec.FinalURL != "" && rec.FinalURL != rec.URL {
		return rec.URL + " -> " + rec.FinalURL
	}
	return rec.URL
}

func notes(rec core.FetchRecord) string {
	if rec.Error != "" {
		return truncate(rec.Error, 80)
	}
	return truncate(rec.Title, 80)
}

func formatDuration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-3]) + "..."
}

func pageSummary(page core.FetchPage) string {
	return fmt.Sprintf("page %d, %d of %d", page.Page, len(page.Items), page.Total)
}

// FormatRecord renders a single entry. JSON and YAML produce an object
// rather than a one-item list.
func FormatRecord(format Format, rec core.FetchRecord) (string, error) {
	switch format {
	case FormatJSON:
		return (&JSONFormatter{Indent: true}).marshal(rec)
	case FormatYAML:
		return marshalYAML(rec)
	default:
		return NewFormatter(format).FormatRecords([]core.FetchRecord{rec})
	}
}
