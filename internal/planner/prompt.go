package planner

import (
	"bytes"
	"os"
	"text/template"
)

const defaultPromptTemplate = `You are analyzing batch {{.BatchID}} of {{.TotalBatches}} ({{.Mode}} run) in the repository at {{.RepoPath}}.

## Files
{{range .Files}}- {{.}}
{{end}}
{{- if .Hint}}
## Hint
{{.Hint}}
{{end}}
{{- if .Dependencies}}
## Already-analyzed dependencies
{{range .Dependencies}}- {{.}}
{{end}}
{{- end}}
{{- if .Summary}}
## Findings so far
{{.Summary}}
{{end}}
## Instructions
1. Read each file above in full
2. For each file give a short summary, its key symbols, its dependencies and notable risks
3. Keep the analysis grounded in the code; do not speculate about files you have not read
{{- if .Language}}
4. Write the analysis in {{.Language}}
{{- end}}
`

// PromptData holds the data used to render a batch prompt template.
type PromptData struct {
	BatchID      int
	TotalBatches int
	Mode         Mode
	RepoPath     string
	Files        []string
	Hint         string
	Dependencies []string
	Summary      string
	Language     string
}

// RenderPrompt renders the batch prompt using either a custom template file or the default.
func RenderPrompt(data PromptData, templatePath string) (string, error) {
	tmplStr := defaultPromptTemplate
	if templatePath != "" {
		content, err := os.ReadFile(templatePath)
		if err != nil {
			return "", err
		}
		tmplStr = string(content)
	}

	tmpl, err := template.New("prompt").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
