package template

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Engine renders text templates with the sprig function library.
type Engine struct {
	funcs template.FuncMap
}

// New creates a new template engine
func New() *Engine {
	return &Engine{funcs: sprig.TxtFuncMap()}
}

// Render executes src against data. Referencing a key missing from data is
// an error rather than "<no value>".
func (e *Engine) Render(name, src string, data map[string]interface{}) (string, error) {
	tmpl, err := template.New(name).Funcs(e.funcs).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}
