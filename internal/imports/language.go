// Package imports extracts import identifiers from source files and resolves
// them to repository files.
package imports

import (
	"path"
	"strings"
)

// Language identifies an import syntax.
type Language string

const (
	Python        Language = "python"
	Cpp           Language = "cpp"
	TypeScript    Language = "typescript"
	SystemVerilog Language = "systemverilog"
	VHDL          Language = "vhdl"
)

var extensions = map[string]Language{
	".py":   Python,
	".c":    Cpp,
	".cc":   Cpp,
	".cpp":  Cpp,
	".cxx":  Cpp,
	".h":    Cpp,
	".hh":   Cpp,
	".hpp":  Cpp,
	".hxx":  Cpp,
	".ts":   TypeScript,
	".tsx":  TypeScript,
	".js":   TypeScript,
	".jsx":  TypeScript,
	".mjs":  TypeScript,
	".cjs":  TypeScript,
	".sv":   SystemVerilog,
	".svh":  SystemVerilog,
	".v":    SystemVerilog,
	".vh":   SystemVerilog,
	".vhd":  VHDL,
	".vhdl": VHDL,
}

// Detect returns the language of a file by extension.
func Detect(file string) (Language, bool) {
	lang, ok := extensions[strings.ToLower(path.Ext(file))]
	return lang, ok
}

// Supported filters files down to those with a known language.
func Supported(files []string) []string {
	var out []string
	for _, f := range files {
		if _, ok := Detect(f); ok {
			out = append(out, f)
		}
	}
	return out
}
