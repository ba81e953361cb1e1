package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ingestkit/ingestkit/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatRecords renders fetch records as a table.
func (f *TableFormatter) FormatRecords(records []core.FetchRecord) (string, error) {
	t := newFetchTable(records)

	failed := 0
	for _, rec := range records {
		if !rec.Succeeded() {
			failed++
		}
	}
	if len(records) > 0 {
		summary := "all succeeded"
		if failed > 0 {
			summary = pluralize(failed, "failure")
		}
		t.AppendFooter(table.Row{"", "", "", "", "", summary})
	}

	return t.Render(), nil
}

// FormatPage renders a page of the fetch log as a table.
func (f *TableFormatter) FormatPage(page core.FetchPage) (string, error) {
	t := newFetchTable(page.Items)
	t.AppendFooter(table.Row{"", "", "", "", "", pageSummary(page)})
	return t.Render(), nil
}

func newFetchTable(records []core.FetchRecord) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Method", "URL", "Status", "Duration", "Notes"})

	for _, rec := range records {
		t.AppendRow(table.Row{
			shortID(rec.ID),
			rec.Method,
			truncate(displayURL(rec), 60),
			statusLabel(rec),
			formatDuration(rec.DurationMS),
			notes(rec),
		})
	}
	return t
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
