package formatting

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

// ConsoleFormatter prints plain, borderless columns suitable for piping
// into other tools.
type ConsoleFormatter struct {
	options Options
}

// NewConsoleFormatter creates a new console formatter
func NewConsoleFormatter(options Options) Formatter {
	return &ConsoleFormatter{
		options: options,
	}
}

// FormatData prints data with its default Go formatting.
func (f *ConsoleFormatter) FormatData(data interface{}) error {
	_, err := fmt.Fprintf(f.options.writer(), "%v\n", data)
	return err
}

// FormatTable prints the rows as space aligned columns.
func (f *ConsoleFormatter) FormatTable(t Table) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(f.options.writer())
	style := table.StyleDefault
	style.Options = table.OptionsNoBordersAndSeparators
	tw.SetStyle(style)

	header := make(table.Row, len(t.Columns))
	for i, col := range t.Columns {
		header[i] = col
	}
	tw.AppendHeader(header)
	for _, row := range t.Rows {
		tw.AppendRow(table.Row(row))
	}
	tw.Render()
	return nil
}

// SetOptions updates the formatter options
func (f *ConsoleFormatter) SetOptions(options Options) {
	f.options = options
}

// GetOptions returns the current formatter options
func (f *ConsoleFormatter) GetOptions() Options {
	return f.options
}
