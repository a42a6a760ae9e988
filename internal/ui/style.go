package ui

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Sprint color functions for building styled strings.
var (
	Bold        = color.New(color.Bold).SprintFunc()
	Dim         = color.New(color.Faint).SprintFunc()
	Cyan        = color.New(color.FgCyan).SprintFunc()
	Green       = color.New(color.FgGreen).SprintFunc()
	Red         = color.New(color.FgRed).SprintFunc()
	Yellow      = color.New(color.FgYellow).SprintFunc()
	Magenta     = color.New(color.FgMagenta).SprintFunc()
	BoldCyan    = color.New(color.Bold, color.FgCyan).SprintFunc()
	BoldGreen   = color.New(color.Bold, color.FgGreen).SprintFunc()
	BoldRed     = color.New(color.Bold, color.FgRed).SprintFunc()
	BoldYellow  = color.New(color.Bold, color.FgYellow).SprintFunc()
	BoldMagenta = color.New(color.Bold, color.FgMagenta).SprintFunc()
)

// PrintBanner renders the lantern banner to w.
func PrintBanner(w io.Writer) {
	glass := color.New(color.FgYellow)
	frame := color.New(color.FgCyan)
	brand := color.New(color.Bold, color.FgMagenta)
	tag := color.New(color.Faint)

	fmt.Fprintln(w)
	frame.Fprintln(w, "      _^_")
	frame.Fprintln(w, "     |___|")
	glass.Fprintln(w, "     |:::|   ", brand.Sprint("L A N T E R N"))
	glass.Fprintln(w, "     |:::|")
	frame.Fprintln(w, "     |___|")
	tag.Fprintf(w, "   %s Incremental repository analysis\n", Dim("🔦"))
	fmt.Fprintln(w)
}

// labelColors is a palette of distinct bold colors for differentiating batches.
var labelColors = []func(a ...interface{}) string{
	BoldMagenta,
	BoldCyan,
	BoldYellow,
	BoldGreen,
	color.New(color.Bold, color.FgHiBlue).SprintFunc(),
	color.New(color.Bold, color.FgHiRed).SprintFunc(),
}

// labelColorIndex hashes a label to a palette index.
func labelColorIndex(label string) int {
	var h uint32
	for _, c := range label {
		h = h*31 + uint32(c)
	}
	return int(h % uint32(len(labelColors)))
}

// Prefix returns a colored [label] prefix string.
// Each label gets a distinct color from the palette.
func Prefix(label string) string {
	c := labelColors[labelColorIndex(label)]
	return Dim("[") + c(label) + Dim("]")
}

// BatchPrefix returns the prefix for batch id.
func BatchPrefix(id int) string {
	return Prefix(fmt.Sprintf("batch-%04d", id))
}

// StatusIcon returns a colored status icon for compact table display.
func StatusIcon(status string) string {
	switch status {
	case "completed":
		return Green("✓")
	case "running":
		return Cyan("●")
	case "failed":
		return Red("✗")
	default:
		return Dim("◌")
	}
}

// PhaseStatus returns a colored phase status string.
func PhaseStatus(status string) string {
	switch status {
	case "done":
		return Green("done")
	case "partial":
		return BoldYellow("partial")
	case "failed":
		return BoldRed("failed")
	default:
		return Dim("pending")
	}
}
