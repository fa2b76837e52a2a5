// Package formatting renders command output as a table, JSON, YAML or plain
// console text.
package formatting

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatConsole OutputFormat = "console" // Plain aligned columns
	FormatJSON    OutputFormat = "json"    // JSON output
	FormatYAML    OutputFormat = "yaml"    // YAML output
	FormatTable   OutputFormat = "table"   // Rich table output
)

// Formats lists the accepted values of an --output flag.
var Formats = []OutputFormat{FormatTable, FormatJSON, FormatYAML, FormatConsole}

// ParseFormat validates a user supplied format name.
func ParseFormat(name string) (OutputFormat, error) {
	for _, f := range Formats {
		if strings.EqualFold(name, string(f)) {
			return f, nil
		}
	}
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return "", fmt.Errorf("unsupported output format %q (use one of %s)", name, strings.Join(names, ", "))
}

// Options configures the formatter behavior
type Options struct {
	Format OutputFormat
	// Output defaults to os.Stdout.
	Output io.Writer
	Color  bool // Enable colored output
}

func (o Options) writer() io.Writer {
	if o.Output == nil {
		return os.Stdout
	}
	return o.Output
}

// Table is tabular data. Structured formats render it as a list of objects
// keyed by the lowercased column names.
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

// Records returns the rows as objects keyed by column.
func (t Table) Records() []map[string]interface{} {
	records := make([]map[string]interface{}, 0, len(t.Rows))
	for _, row := range t.Rows {
		record := make(map[string]interface{}, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				record[strings.ToLower(col)] = row[i]
			}
		}
		records = append(records, record)
	}
	return records
}

// Formatter renders command output.
type Formatter interface {
	// FormatData renders an arbitrary value.
	FormatData(data interface{}) error
	// FormatTable renders rows under column headers.
	FormatTable(t Table) error

	// Configuration
	SetOptions(options Options)
	GetOptions() Options
}

// Factory creates formatters for different output formats
type Factory interface {
	CreateFormatter(options Options) Formatter
}

// NewFactory creates a new formatter factory
func NewFactory() Factory {
	return &factory{}
}

// factory implements the Factory interface
type factory struct{}

// CreateFormatter creates the appropriate formatter based on options
func (f *factory) CreateFormatter(options Options) Formatter {
	switch options.Format {
	case FormatJSON:
		return NewJSONFormatter(options)
	case FormatYAML:
		return NewYAMLFormatter(options)
	case FormatConsole:
		return NewConsoleFormatter(options)
	case FormatTable:
		fallthrough
	default:
		return NewTableFormatter(options)
	}
}
