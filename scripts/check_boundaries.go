package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePath = "rewards"

type violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

// layerRule limits what one layer of a bounded context may import. Imports
// from the context itself are listed as suffixes of the context path.
type layerRule struct {
	ownLayers []string
	external  []string
}

// Adapters, transport and the module root wire infrastructure and are only
// held to the cross-context rule.
var layerRules = map[string]layerRule{
	"domain": {
		ownLayers: []string{"domain"},
		external:  []string{"github.com/shopspring/decimal"},
	},
	"ports": {
		ownLayers: []string{"domain"},
		external: []string{
			modulePath + "/contracts",
			"github.com/shopspring/decimal",
		},
	},
	"application": {
		ownLayers: []string{"application", "domain", "ports"},
		external: []string{
			modulePath + "/contracts",
			"github.com/shopspring/decimal",
			"github.com/cenkalti/backoff/v4",
			"golang.org/x/time/rate",
		},
	},
}

func main() {
	violations, err := collectViolations(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "boundary check failed: %v\n", err)
		os.Exit(2)
	}
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}

	fmt.Println("boundary violations found:")
	for _, v := range violations {
		fmt.Printf("- %s:%d imports %q (%s)\n", v.File, v.Line, v.Import, v.Rule)
	}
	os.Exit(1)
}

// collectViolations checks non-test sources under root/contexts, laid out as
// contexts/<context>/<service>/<layer>/...
func collectViolations(root string) ([]violation, error) {
	var violations []violation

	err := filepath.WalkDir(filepath.Join(root, "contexts"), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 4 {
			return nil
		}

		contextPath := strings.Join([]string{modulePath, "contexts", parts[1], parts[2]}, "/")
		layer := ""
		if len(parts) > 4 {
			layer = parts[3]
		}
		fileViolations, err := validateFile(path, filepath.ToSlash(rel), layer, contextPath)
		if err != nil {
			return err
		}
		violations = append(violations, fileViolations...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File != violations[j].File {
			return violations[i].File < violations[j].File
		}
		if violations[i].Line != violations[j].Line {
			return violations[i].Line < violations[j].Line
		}
		return violations[i].Import < violations[j].Import
	})
	return violations, nil
}

func validateFile(path string, rel string, layer string, contextPath string) ([]violation, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return []violation{{File: rel, Line: 1, Rule: "file must parse"}}, nil
	}

	rule, layered := layerRules[layer]
	var violations []violation
	for _, imp := range file.Imports {
		importPath := strings.Trim(imp.Path.Value, `"`)
		report := func(reason string) {
			violations = append(violations, violation{
				File:   rel,
				Line:   fset.Position(imp.Pos()).Line,
				Import: importPath,
				Rule:   reason,
			})
		}

		if hasPrefix(importPath, modulePath+"/contexts") && !hasPrefix(importPath, contextPath) {
			report("cross-context imports are forbidden")
			continue
		}
		if !layered || isStdlib(importPath) {
			continue
		}
		if hasPrefix(importPath, modulePath+"/internal") {
			report(layer + " must not import runtime infrastructure")
			continue
		}
		if !rule.allows(importPath, contextPath) {
			report(layer + " import is outside explicit allowlist")
		}
	}
	return violations, nil
}

func (r layerRule) allows(importPath string, contextPath string) bool {
	for _, own := range r.ownLayers {
		if hasPrefix(importPath, contextPath+"/"+own) {
			return true
		}
	}
	for _, prefix := range r.external {
		if hasPrefix(importPath, prefix) {
			return true
		}
	}
	return false
}

func hasPrefix(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isStdlib(importPath string) bool {
	if hasPrefix(importPath, modulePath) {
		return false
	}
	first, _, _ := strings.Cut(importPath, "/")
	return !strings.Contains(first, ".")
}
