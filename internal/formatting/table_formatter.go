package formatting

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	kstrings "kickstart/pkg/strings"
)

// TableFormatter provides rich table output formatting
type TableFormatter struct {
	options Options
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(options Options) Formatter {
	return &TableFormatter{
		options: options,
	}
}

// FormatData formats generic data using table logic
func (f *TableFormatter) FormatData(data interface{}) error {
	switch d := data.(type) {
	case map[string]interface{}:
		return f.formatObjectData(d)
	case []interface{}:
		return f.formatArrayData(d)
	case string:
		fmt.Fprintln(f.options.writer(), d)
	default:
		fmt.Fprintf(f.options.writer(), "%v\n", d)
	}
	return nil
}

// FormatTable renders t with rounded borders.
func (f *TableFormatter) FormatTable(t Table) error {
	if len(t.Rows) == 0 {
		fmt.Fprint(f.options.writer(), f.formatEmptyMessage("Nothing to show"))
		return nil
	}

	tw := f.createTable()
	header := make(table.Row, len(t.Columns))
	for i, col := range t.Columns {
		header[i] = f.colorize(text.FgHiCyan, col)
	}
	tw.AppendHeader(header)
	for _, row := range t.Rows {
		tw.AppendRow(table.Row(row))
	}
	tw.Render()
	return nil
}

// SetOptions updates the formatter options
func (f *TableFormatter) SetOptions(options Options) {
	f.options = options
}

// GetOptions returns the current formatter options
func (f *TableFormatter) GetOptions() Options {
	return f.options
}

// Helper methods

// createTable creates a new table with standard styling
func (f *TableFormatter) createTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(f.options.writer())
	t.SetStyle(table.StyleRounded)
	return t
}

func (f *TableFormatter) colorize(c text.Color, s string) string {
	if !f.options.Color {
		return s
	}
	return c.Sprint(s)
}

// formatEmptyMessage formats empty result messages
func (f *TableFormatter) formatEmptyMessage(message string) string {
	return f.colorize(text.FgYellow, message) + "\n"
}

// formatObjectData formats object data as key-value pairs
func (f *TableFormatter) formatObjectData(data map[string]interface{}) error {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]interface{}, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []interface{}{key, kstrings.Truncate(fmt.Sprintf("%v", data[key]), kstrings.DefaultCellMaxLen)})
	}
	return f.FormatTable(Table{Columns: []string{"KEY", "VALUE"}, Rows: rows})
}

// formatArrayData formats array data as a simple table
func (f *TableFormatter) formatArrayData(data []interface{}) error {
	w := f.options.writer()
	if len(data) == 0 {
		fmt.Fprint(w, f.formatEmptyMessage("No items found"))
		return nil
	}

	for i, item := range data {
		fmt.Fprintf(w, "  %d. %v\n", i+1, item)
	}

	fmt.Fprintf(w, "\n%s %d %s\n",
		f.colorize(text.FgHiBlue, "Total:"),
		len(data),
		f.colorize(text.FgHiBlue, "items"))

	return nil
}
