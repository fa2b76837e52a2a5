package formatting

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter provides YAML output formatting
type YAMLFormatter struct {
	options Options
}

// NewYAMLFormatter creates a new YAML formatter
func NewYAMLFormatter(options Options) Formatter {
	return &YAMLFormatter{
		options: options,
	}
}

// FormatData writes data as a YAML document.
func (f *YAMLFormatter) FormatData(data interface{}) error {
	_, err := fmt.Fprint(f.options.writer(), f.marshal(data))
	return err
}

// FormatTable writes the rows as a YAML sequence of mappings.
func (f *YAMLFormatter) FormatTable(t Table) error {
	return f.FormatData(t.Records())
}

// SetOptions updates the formatter options
func (f *YAMLFormatter) SetOptions(options Options) {
	f.options = options
}

// GetOptions returns the current formatter options
func (f *YAMLFormatter) GetOptions() Options {
	return f.options
}

// marshal converts data to YAML string
func (f *YAMLFormatter) marshal(data interface{}) string {
	yamlBytes, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Sprintf("error: \"Failed to format YAML: %v\"\n", err)
	}

	return string(yamlBytes)
}
