package output

import (
	"fmt"
	"strings"

	"github.com/ingestkit/ingestkit/internal/core"
)

// MarkdownFormatter renders results as a markdown table.
type MarkdownFormatter struct{}

// FormatRecords renders fetch records as Markdown.
func (f *MarkdownFormatter) FormatRecords(records []core.FetchRecord) (string, error) {
	var sb strings.Builder
	writeMarkdownTable(&sb, records)
	return sb.String(), nil
}

// FormatPage renders a page of the fetch log as Markdown.
func (f *MarkdownFormatter) FormatPage(page core.FetchPage) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Fetch log\n\n")
	writeMarkdownTable(&sb, page.Items)
	sb.WriteString(fmt.Sprintf("\n**Page**: %s\n", pageSummary(page)))
	return sb.String(), nil
}

func writeMarkdownTable(sb *strings.Builder, records []core.FetchRecord) {
	sb.WriteString("| ID | Method | URL | Status | Duration | Notes |\n")
	sb.WriteString("|----|--------|-----|--------|----------|-------|\n")

	for _, rec := range records {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
			escapeMarkdownCell(rec.ID),
			escapeMarkdownCell(rec.Method),
			escapeMarkdownCell(displayURL(rec)),
			escapeMarkdownCell(statusLabel(rec)),
			escapeMarkdownCell(formatDuration(rec.DurationMS)),
			escapeMarkdownCell(notes(rec)),
		))
	}
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.ReplaceAll(value, "|", "\\|")
}
