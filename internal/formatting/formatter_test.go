package formatting

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var routes = Table{
	Columns: []string{"METHOD", "PATH"},
	Rows: [][]interface{}{
		{"GET", "/"},
		{"POST", "/users/:id"},
	},
}

func render(t *testing.T, format OutputFormat, tbl Table) string {
	t.Helper()
	var buf bytes.Buffer
	f := NewFactory().CreateFormatter(Options{Format: format, Output: &buf})
	require.NoError(t, f.FormatTable(tbl))
	return buf.String()
}

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"table", "json", "YAML", "console"} {
		f, err := ParseFormat(name)
		require.NoError(t, err)
		assert.Equal(t, strings.ToLower(name), string(f))
	}

	_, err := ParseFormat("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table, json, yaml, console")
}

func TestFactory_CreateFormatter(t *testing.T) {
	factory := NewFactory()
	assert.IsType(t, &TableFormatter{}, factory.CreateFormatter(Options{}))
	assert.IsType(t, &JSONFormatter{}, factory.CreateFormatter(Options{Format: FormatJSON}))
	assert.IsType(t, &YAMLFormatter{}, factory.CreateFormatter(Options{Format: FormatYAML}))
	assert.IsType(t, &ConsoleFormatter{}, factory.CreateFormatter(Options{Format: FormatConsole}))

	f := factory.CreateFormatter(Options{Format: FormatJSON})
	f.SetOptions(Options{Format: FormatJSON, Color: true})
	assert.True(t, f.GetOptions().Color)
}

func TestFormatTable(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var got []map[string]string
		require.NoError(t, json.Unmarshal([]byte(render(t, FormatJSON, routes)), &got))
		assert.Equal(t, []map[string]string{
			{"method": "GET", "path": "/"},
			{"method": "POST", "path": "/users/:id"},
		}, got)
	})

	t.Run("yaml", func(t *testing.T) {
		var got []map[string]string
		require.NoError(t, yaml.Unmarshal([]byte(render(t, FormatYAML, routes)), &got))
		assert.Len(t, got, 2)
		assert.Equal(t, "/users/:id", got[1]["path"])
	})

	t.Run("table", func(t *testing.T) {
		out := render(t, FormatTable, routes)
		assert.Contains(t, out, "METHOD")
		assert.Contains(t, out, "/users/:id")
		assert.Contains(t, out, "╭")
	})

	t.Run("console", func(t *testing.T) {
		out := render(t, FormatConsole, routes)
		assert.Contains(t, out, "POST")
		assert.NotContains(t, out, "│")
		assert.NotContains(t, out, "|")
	})

	t.Run("empty table", func(t *testing.T) {
		out := render(t, FormatTable, Table{Columns: []string{"METHOD"}})
		assert.Equal(t, "Nothing to show\n", out)
		assert.Equal(t, "[]\n", render(t, FormatJSON, Table{Columns: []string{"METHOD"}}))
	})
}

func TestTableFormatter_FormatData(t *testing.T) {
	var buf bytes.Buffer
	f := NewTableFormatter(Options{Output: &buf})

	require.NoError(t, f.FormatData(map[string]interface{}{"b": 2, "a": strings.Repeat("x", 120)}))
	out := buf.String()
	assert.Less(t, strings.Index(out, " a "), strings.Index(out, " b "), "keys are sorted")
	assert.Contains(t, out, strings.Repeat("x", 97)+"...")

	buf.Reset()
	require.NoError(t, f.FormatData([]interface{}{"one", "two"}))
	assert.Contains(t, buf.String(), "  2. two")
	assert.Contains(t, buf.String(), "Total: 2 items")
}

func TestJSONFormatter_FormatData(t *testing.T) {
	var buf bytes.Buffer
	f := NewJSONFormatter(Options{Output: &buf})

	require.NoError(t, f.FormatData(map[string]interface{}{"listen": "unix:<sock>", "port": 3000}))
	assert.Equal(t, "{\n  \"listen\": \"unix:<sock>\",\n  \"port\": 3000\n}\n", buf.String())

	assert.Error(t, f.FormatData(make(chan int)))
}
