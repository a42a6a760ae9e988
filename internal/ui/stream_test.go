package ui

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestStreamFormatter(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	sf := NewStreamFormatter("batch-0001", &out, &sync.Mutex{})

	events := []string{
		`{"type":"system","subtype":"init"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Reading the parser.\nThen the lexer."}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read","input":{"file_path":"src/parser.py"}}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Grep","input":{"pattern":"def parse","path":"src"}}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read","input":{"file_path":"src/parser.py"}}]}}`,
		`not json`,
		`{"type":"result","result":"{}","is_error":false,"num_turns":4,"duration_ms":2500}`,
	}
	payload := strings.Join(events, "\n") + "\n"
	// Split writes mid-line to exercise buffering.
	sf.Write([]byte(payload[:37]))
	sf.Write([]byte(payload[37:]))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"  [batch-0001] 💬 Reading the parser. …",
		"  [batch-0001] 📖 Reading src/parser.py",
		"  [batch-0001] 🔍 Searching for def parse in src",
		"  [batch-0001] 📖 Re-reading src/parser.py",
		"  [batch-0001] agent finished in 4 turns (2.5s), 1 files read",
	}, lines)
}

func TestPrefixIsStable(t *testing.T) {
	color.NoColor = true
	assert.Equal(t, "[batch-0007]", BatchPrefix(7))
	assert.Equal(t, labelColorIndex("x"), labelColorIndex("x"))
}
