package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	sqlKeywordPattern = regexp.MustCompile(`(?is)^\s*(--[^\n]*\n\s*)?(select|insert|update|delete|with)\b`)
	uuidMarkerPattern = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

type site struct {
	file string
	name string
	line int
}

type linter struct {
	missing []violation
	seen    map[string][]site
}

func newLinter() *linter {
	return &linter{seen: make(map[string][]site)}
}

func (l *linter) lintFile(path string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return err
	}
	l.lintAST(fset, path, file)
	return nil
}

func (l *linter) lintSource(path, src string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return err
	}
	l.lintAST(fset, path, file)
	return nil
}

func (l *linter) lintAST(fset *token.FileSet, path string, file *ast.File) {
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range vs.Values {
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil || !sqlKeywordPattern.MatchString(raw) {
				continue
			}
			name := joinNames(vs.Names)
			if i < len(vs.Names) {
				name = vs.Names[i].Name
			}
			s := site{file: path, name: name, line: fset.Position(bl.Pos()).Line}
			marker := firstLine(raw)
			if !uuidMarkerPattern.MatchString(marker) {
				l.missing = append(l.missing, violation{
					file: s.file, name: s.name, line: s.line,
					message: "missing or invalid --sql <uuid> marker",
				})
				continue
			}
			l.seen[marker] = append(l.seen[marker], s)
		}
		return true
	})
}

// violations returns missing markers followed by reused ones, in stable order.
func (l *linter) violations() []violation {
	out := append([]violation(nil), l.missing...)
	markers := make([]string, 0, len(l.seen))
	for m, sites := range l.seen {
		if len(sites) > 1 {
			markers = append(markers, m)
		}
	}
	sort.Strings(markers)
	for _, m := range markers {
		sites := l.seen[m]
		first := sites[0]
		for _, s := range sites[1:] {
			out = append(out, violation{
				file: s.file, name: s.name, line: s.line,
				message: fmt.Sprintf("marker %q already used by %s at %s:%d", strings.TrimPrefix(m, "--sql "), first.name, first.file, first.line),
			})
		}
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func joinNames(idents []*ast.Ident) string {
	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident == nil {
			continue
		}
		parts = append(parts, ident.Name)
	}
	return strings.Join(parts, ",")
}
