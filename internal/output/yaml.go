package output

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ingestkit/ingestkit/internal/core"
)

// YAMLFormatter renders results as YAML documents.
type YAMLFormatter struct{}

// FormatRecords renders fetch records as a YAML sequence.
func (f *YAMLFormatter) FormatRecords(records []core.FetchRecord) (string, error) {
	if records == nil {
		records = []core.FetchRecord{}
	}
	return marshalYAML(records)
}

// FormatPage renders a page of the fetch log as a YAML mapping.
func (f *YAMLFormatter) FormatPage(page core.FetchPage) (string, error) {
	if page.Items == nil {
		page.Items = []core.FetchRecord{}
	}
	return marshalYAML(struct {
		Items   []core.FetchRecord `yaml:"items"`
		Total   int                `yaml:"total"`
		Page    int                `yaml:"page"`
		PerPage int                `yaml:"per_page"`
	}{page.Items, page.Total, page.Page, page.PerPage})
}

func marshalYAML(value any) (string, error) {
	var sb strings.Builder
	encoder := yaml.NewEncoder(&sb)
	encoder.SetIndent(2)
	if err := encoder.Encode(value); err != nil {
		return "", err
	}
	if err := encoder.Close(); err != nil {
		return "", err
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
