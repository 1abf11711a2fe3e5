package pipeline

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var promptTemplates = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

// renderPrompt executes the named embedded template with data.
func renderPrompt(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render prompt template %s: %w", name, err)
	}
	return buf.String(), nil
}

// promptSource returns the raw template text, used as an input to stage
// version derivation so prompt edits invalidate prior completions.
func promptSource(name string) string {
	data, err := promptFS.ReadFile("prompts/" + name)
	if err != nil {
		// Embedded files cannot go missing at runtime; a bad name is a
		// programming error.
		panic(fmt.Sprintf("unknown prompt template %s: %v", name, err))
	}
	return string(data)
}
