package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joshharrison/lantern/internal/llm"
	"github.com/joshharrison/lantern/internal/records"
)

const batchResponseFormat = `
## Response format
Respond with a single JSON object and nothing else:
{
  "files": [
    {
      "path": "<file path exactly as listed>",
      "summary": "<one paragraph>",
      "symbols": ["<key type, function or module>"],
      "dependencies": ["<file or module it relies on>"],
      "risks": ["<notable risk or smell>"],
      "analysis": "<detailed markdown analysis>"
    }
  ],
  "summary": "<two or three sentences on what this batch adds to the overall picture>"
}
`

type fileResponse struct {
	Path         string   `json:"path"`
	Summary      string   `json:"summary"`
	Symbols      []string `json:"symbols"`
	Dependencies []string `json:"dependencies"`
	Risks        []string `json:"risks"`
	Analysis     string   `json:"analysis"`
}

type batchResponse struct {
	Files   []fileResponse `json:"files"`
	Summary string         `json:"summary"`
}

// extractJSON returns the outermost JSON object of a model response.
func extractJSON(text string) string {
	text = llm.StripJSONFences(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

// parseBatchResponse maps a model response onto one record per requested
// file. Files the response omits get a record with an empty summary.
func parseBatchResponse(text string, batchID int, files []string) (*BatchResult, error) {
	var resp batchResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return nil, fmt.Errorf("parse batch response: %w", err)
	}

	byPath := make(map[string]fileResponse, len(resp.Files))
	for _, f := range resp.Files {
		byPath[strings.TrimPrefix(f.Path, "./")] = f
	}

	out := &BatchResult{Summary: strings.TrimSpace(resp.Summary)}
	for _, path := range files {
		f := byPath[path]
		out.Records = append(out.Records, records.Record{
			Path:         path,
			BatchID:      batchID,
			Summary:      strings.TrimSpace(f.Summary),
			Symbols:      f.Symbols,
			Dependencies: f.Dependencies,
			Risks:        f.Risks,
			Body:         f.Analysis,
		})
	}
	return out, nil
}
