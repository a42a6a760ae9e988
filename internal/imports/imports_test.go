package imports

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	lang, ok := Detect("src/app.PY")
	assert.True(t, ok)
	assert.Equal(t, Python, lang)

	_, ok = Detect("README.md")
	assert.False(t, ok)

	assert.Equal(t, []string{"a.ts", "b.vhd"}, Supported([]string{"a.ts", "notes.txt", "b.vhd"}))
}

func TestExtract_Python(t *testing.T) {
	src := []byte(`import os
import pkg.util as u, json
from . import sibling
from ..core import engine
from pkg.models import User
from .helpers import *

def main():
    pass
`)
	got, err := Extract(context.Background(), Python, src)
	require.NoError(t, err)
	assert.Equal(t, []string{
		".", "..core", "..core.engine",
		".helpers", ".sibling",
		"json", "os",
		"pkg.models", "pkg.models.User", "pkg.util",
	}, got)
}

func TestExtract_PythonSyntaxError(t *testing.T) {
	_, err := Extract(context.Background(), Python, []byte("def broken(:\n  import os\n"))
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestExtract_Script(t *testing.T) {
	src := []byte(`import React from 'react';
import { a } from "./a";
import './side-effect';
export { b } from './b';
const c = require('./c');
const d = import('./d');
`)
	got, err := Extract(context.Background(), TypeScript, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"./a", "./b", "./c", "./d", "./side-effect", "react"}, got)
}

func TestExtract_TypeScriptSyntax(t *testing.T) {
	src := []byte(`import type { Config } from './config';
import { load } from './loader';

export function run(cfg: Config): void {
  load(cfg);
}
`)
	got, err := Extract(context.Background(), TypeScript, src)
	require.NoError(t, err)
	assert.Contains(t, got, "./config")
	assert.Contains(t, got, "./loader")
}

func TestExtract_Cpp(t *testing.T) {
	src := []byte("#include <vector>\n  #  include \"core/config.hpp\"\n#include \"util.h\"\n")
	got, err := Extract(context.Background(), Cpp, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"core/config.hpp", "util.h", "vector"}, got)
}

func TestExtract_SystemVerilog(t *testing.T) {
	src := []byte("`include \"defs.svh\"\nimport bus_pkg::*;\nmodule top; endmodule\n")
	got, err := Extract(context.Background(), SystemVerilog, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"bus_pkg", "defs.svh"}, got)
}

func TestExtract_VHDL(t *testing.T) {
	src := []byte(`library ieee;
use ieee.std_logic_1164.all;
use work.My_Pkg.all;
use lib2.shared.all;
architecture rtl of top is
begin
  u0: entity work.ALU(rtl);
end;
`)
	got, err := Extract(context.Background(), VHDL, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"alu", "lib2.shared", "my_pkg"}, got)
}

func TestResolve(t *testing.T) {
	idx := NewIndex([]string{
		"src/app/__init__.py",
		"src/app/main.py",
		"src/app/util.py",
		"src/app/core/engine.py",
		"lib/util.h",
		"lib/impl.cpp",
		"include/config.hpp",
		"web/app.ts",
		"web/lib/helpers.ts",
		"web/components/index.tsx",
		"hw/defs.svh",
		"hw/bus_pkg.sv",
		"hw/top.sv",
		"rtl/alu.vhd",
		"rtl/my_pkg.vhd",
		"rtl/top.vhd",
	})

	tests := []struct {
		name string
		file string
		ids  []string
		want []string
	}{
		{"python absolute with src shortcut", "src/app/main.py", []string{"app.util", "os"}, []string{"src/app/util.py"}},
		{"python full dotted path", "src/app/main.py", []string{"src.app.core.engine"}, []string{"src/app/core/engine.py"}},
		{"python package init", "src/app/main.py", []string{"app"}, []string{"src/app/__init__.py"}},
		{"python relative", "src/app/core/engine.py", []string{"..util", ".missing"}, []string{"src/app/util.py"}},
		{"python self import dropped", "src/app/util.py", []string{".util"}, nil},
		{"cpp by name and path", "lib/impl.cpp", []string{"util.h", "config.hpp", "vector"}, []string{"include/config.hpp", "lib/util.h"}},
		{"script relative with js extension", "web/app.ts", []string{"./lib/helpers.js", "react"}, []string{"web/lib/helpers.ts"}},
		{"script extensionless and index", "web/app.ts", []string{"./lib/helpers", "./components"}, []string{"web/components/index.tsx", "web/lib/helpers.ts"}},
		{"systemverilog include and package", "hw/top.sv", []string{"defs.svh", "bus_pkg"}, []string{"hw/bus_pkg.sv", "hw/defs.svh"}},
		{"vhdl work and library units", "rtl/top.vhd", []string{"alu", "lib2.my_pkg", "unknown"}, []string{"rtl/alu.vhd", "rtl/my_pkg.vhd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := idx.Resolve(tt.file, tt.ids)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSource_Dependencies(t *testing.T) {
	root := t.TempDir()
	write := func(name, content string) {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	write("pkg/__init__.py", "")
	write("pkg/a.py", "from pkg import b\nimport os\n")
	write("pkg/b.py", "from . import c\n")
	write("pkg/c.py", "x = 1\n")
	write("pkg/bad.py", "def (:\n")

	files := []string{"pkg/__init__.py", "pkg/a.py", "pkg/b.py", "pkg/c.py", "pkg/bad.py"}
	src := NewSource(root, files)
	ctx := context.Background()

	deps, err := src.Dependencies(ctx, "pkg/a.py")
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/__init__.py", "pkg/b.py"}, deps)

	deps, err = src.Dependencies(ctx, "pkg/b.py")
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/__init__.py", "pkg/c.py"}, deps)

	_, err = src.Dependencies(ctx, "pkg/bad.py")
	assert.ErrorIs(t, err, ErrSyntax)

	deps, err = src.Dependencies(ctx, "notes.txt")
	assert.NoError(t, err)
	assert.Empty(t, deps)
}
