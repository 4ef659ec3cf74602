// Command layercheck keeps the verification pipeline independent of the
// HTTP surface.
//
// The pipeline packages (fingerprint, analysis, ledger, verify and
// observability) must not import the packages that serve requests or load
// process configuration.
//
// Usage:
//
//	go run ./tools/layercheck [-root <project-root>]
package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const modulePath = "github.com/truthtag/truthtag"

// pipeline lists the packages under pkg/ that form the core.
var pipeline = []string{"fingerprint", "analysis", "ledger", "verify", "observability"}

// forbidden lists import paths the pipeline may not use.
var forbidden = []string{
	modulePath + "/pkg/api",
	modulePath + "/pkg/auth",
	modulePath + "/pkg/users",
	modulePath + "/pkg/limiter",
	modulePath + "/pkg/config",
	modulePath + "/cmd/",
	"net/http/httptest",
}

// violation is one bad import.
type violation struct {
	File   string
	Line   int
	Import string
}

func (v violation) String() string {
	return fmt.Sprintf("%s:%d imports %q", v.File, v.Line, v.Import)
}

func main() {
	root := flag.String("root", ".", "Project root directory")
	flag.Parse()
	os.Exit(run(*root, os.Stdout, os.Stderr))
}

func run(root string, stdout, stderr io.Writer) int {
	violations, err := check(root)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, v := range violations {
		_, _ = fmt.Fprintf(stdout, "LAYER VIOLATION: %s\n", v)
	}
	if len(violations) > 0 {
		_, _ = fmt.Fprintf(stdout, "\n%d layer violation(s) found\n", len(violations))
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "layer check passed")
	return 0
}

// check scans non-test Go files of every pipeline package under root.
func check(root string) ([]violation, error) {
	fset := token.NewFileSet()
	var out []violation

	for _, pkg := range pipeline {
		dir := filepath.Join(root, "pkg", pkg)
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("%s: %w", dir, err)
		}
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == "testdata" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}

			f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			for _, imp := range f.Imports {
				p := strings.Trim(imp.Path.Value, `"`)
				if isForbidden(p) {
					rel, _ := filepath.Rel(root, path)
					out = append(out, violation{File: rel, Line: fset.Position(imp.Pos()).Line, Import: p})
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func isForbidden(importPath string) bool {
	for _, f := range forbidden {
		if importPath == f || (strings.HasSuffix(f, "/") && strings.HasPrefix(importPath, f)) {
			return true
		}
	}
	return false
}
