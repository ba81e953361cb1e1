package output

import (
	"encoding/json"

	"github.com/ingestkit/ingestkit/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatRecords renders fetch records as a JSON array.
func (f *JSONFormatter) FormatRecords(records []core.FetchRecord) (string, error) {
	if records == nil {
		records = []core.FetchRecord{}
	}
	return f.marshal(records)
}

// FormatPage renders a page of the fetch log as a JSON object.
func (f *JSONFormatter) FormatPage(page core.FetchPage) (string, error) {
	if page.Items == nil {
		page.Items = []core.FetchRecord{}
	}
	return f.marshal(page)
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
