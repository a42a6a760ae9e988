package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/joshharrison/lantern/internal/llm"
)

// Compressor condenses the global summary with a Provider. It satisfies
// state.Compressor.
type Compressor struct {
	provider llm.Provider
}

// NewCompressor returns a Compressor using p.
func NewCompressor(p llm.Provider) *Compressor {
	return &Compressor{provider: p}
}

func (c *Compressor) Compress(ctx context.Context, summary string, target int) (string, error) {
	text, err := c.provider.Complete(ctx, llm.Request{
		Label: "compress",
		Prompt: fmt.Sprintf(`Condense the running analysis notes below to at most %d characters.
Keep file paths, component names and cross-cutting findings. Drop repetition. Reply with the notes only.

%s`, target, summary),
	})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("compressor returned nothing")
	}
	return text, nil
}
