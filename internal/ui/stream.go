package ui

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// StreamFormatter renders the stream-json events of an analysis agent as
// one prefixed line per event. Only narration, tool calls and the final
// result are shown. It implements io.Writer.
type StreamFormatter struct {
	prefix string
	dest   io.Writer
	mu     *sync.Mutex
	buf    []byte
	reads  map[string]bool
}

// NewStreamFormatter creates a StreamFormatter that prefixes output with [label].
func NewStreamFormatter(label string, dest io.Writer, mu *sync.Mutex) *StreamFormatter {
	return &StreamFormatter{
		prefix: Prefix(label) + " ",
		dest:   dest,
		mu:     mu,
		reads:  make(map[string]bool),
	}
}

func (sf *StreamFormatter) Write(p []byte) (int, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	sf.buf = append(sf.buf, p...)
	for {
		line, rest, ok := bytes.Cut(sf.buf, []byte{'\n'})
		if !ok {
			break
		}
		sf.buf = rest
		sf.event(line)
	}
	return len(p), nil
}

func (sf *StreamFormatter) event(line []byte) {
	if !gjson.ValidBytes(line) {
		return
	}
	ev := gjson.ParseBytes(line)
	switch ev.Get("type").String() {
	case "assistant":
		for _, item := range ev.Get("message.content").Array() {
			switch item.Get("type").String() {
			case "text":
				if text := firstLine(item.Get("text").String()); text != "" {
					sf.writeLine("💬 " + text)
				}
			case "tool_use":
				sf.writeLine(Dim(sf.describeTool(item.Get("name").String(), item.Get("input"))))
			}
		}
	case "result":
		secs := ev.Get("duration_ms").Float() / 1000
		turns := ev.Get("num_turns").Int()
		if ev.Get("is_error").Bool() {
			sf.writeLine(Red(fmt.Sprintf("agent error after %d turns (%.1fs)", turns, secs)))
			return
		}
		sf.writeLine(Dim(fmt.Sprintf("agent finished in %d turns (%.1fs), %d files read", turns, secs, len(sf.reads))))
	}
}

// describeTool names a tool call. Repeated reads of one file are marked.
func (sf *StreamFormatter) describeTool(name string, input gjson.Result) string {
	switch name {
	case "Read":
		path := input.Get("file_path").String()
		if sf.reads[path] {
			return "📖 Re-reading " + path
		}
		sf.reads[path] = true
		return "📖 Reading " + path
	case "Glob":
		return "🔍 Listing " + input.Get("pattern").String()
	case "Grep":
		q := "🔍 Searching for " + input.Get("pattern").String()
		if p := input.Get("path").String(); p != "" {
			q += " in " + p
		}
		return q
	case "Bash":
		cmd := input.Get("description").String()
		if cmd == "" {
			cmd = input.Get("command").String()
		}
		if len(cmd) > 80 {
			cmd = cmd[:80] + "..."
		}
		return "🔧 $ " + cmd
	default:
		return "🔧 " + name
	}
}

// firstLine keeps agent narration to one line per message.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if head, _, ok := strings.Cut(s, "\n"); ok {
		return head + " …"
	}
	return s
}

func (sf *StreamFormatter) writeLine(text string) {
	fmt.Fprintf(sf.dest, "  %s%s\n", sf.prefix, text)
}
