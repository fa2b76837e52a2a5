package formatting

import (
	"encoding/json"
)

// JSONFormatter provides structured JSON output formatting
type JSONFormatter struct {
	options Options
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(options Options) Formatter {
	return &JSONFormatter{
		options: options,
	}
}

// FormatData writes data as indented JSON. Route paths and option values
// are written as is, without HTML escaping.
func (f *JSONFormatter) FormatData(data interface{}) error {
	enc := json.NewEncoder(f.options.writer())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(data)
}

// FormatTable writes the rows as a JSON array of objects.
func (f *JSONFormatter) FormatTable(t Table) error {
	return f.FormatData(t.Records())
}

// SetOptions updates the formatter options
func (f *JSONFormatter) SetOptions(options Options) {
	f.options = options
}

// GetOptions returns the current formatter options
func (f *JSONFormatter) GetOptions() Options {
	return f.options
}
