package news

import (
	"context"
	"fmt"
	"sort"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/modules/all"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
)

// documentGlobals are the per-document names available to a filter
// expression, alongside the standard Risor builtins.
var documentGlobals = []string{"score", "summary", "title", "url"}

// Filter evaluates a Risor expression against each search result. The
// expression sees the document fields as globals (title, url, summary, score)
// plus the standard builtins, and keeps the document when it evaluates
// truthy, e.g. `score >= 0.5` or `!strings.contains(url, "example.com")`.
type Filter struct {
	source   string
	code     *compiler.Code
	builtins map[string]object.Object
}

// NewFilter compiles a filter expression. Compilation happens once; the
// compiled code is evaluated per document.
func NewFilter(expression string) (*Filter, error) {
	if expression == "" {
		return nil, fmt.Errorf("filter expression is empty")
	}

	builtins := all.Builtins()
	names := make([]string, 0, len(builtins)+len(documentGlobals))
	for name := range builtins {
		names = append(names, name)
	}
	names = append(names, documentGlobals...)
	sort.Strings(names)

	ast, err := parser.Parse(context.Background(), expression)
	if err != nil {
		return nil, fmt.Errorf("failed to parse filter expression: %w", err)
	}
	code, err := compiler.Compile(ast, compiler.WithGlobalNames(names))
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter expression: %w", err)
	}
	return &Filter{source: expression, code: code, builtins: builtins}, nil
}

// Keep reports whether the filter expression evaluates truthy for doc.
func (f *Filter) Keep(ctx context.Context, doc Document) (bool, error) {
	globals := make(map[string]any, len(f.builtins)+len(documentGlobals))
	for name, value := range f.builtins {
		globals[name] = value
	}
	globals["title"] = doc.Title
	globals["url"] = doc.URL
	globals["summary"] = doc.Summary
	globals["score"] = doc.Score

	result, err := risor.EvalCode(ctx, f.code, risor.WithGlobals(globals))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate filter %q: %w", f.source, err)
	}
	return isTruthy(result), nil
}

// Apply returns the documents the filter keeps, preserving order.
func (f *Filter) Apply(ctx context.Context, docs []Document) ([]Document, error) {
	kept := make([]Document, 0, len(docs))
	for _, doc := range docs {
		keep, err := f.Keep(ctx, doc)
		if err != nil {
			return nil, err
		}
		if keep {
			kept = append(kept, doc)
		}
	}
	return kept, nil
}

func isTruthy(obj object.Object) bool {
	switch o := obj.(type) {
	case *object.Bool:
		return o.Value()
	case *object.Int:
		return o.Value() != 0
	case *object.Float:
		return o.Value() != 0.0
	case *object.String:
		return o.Value() != ""
	case *object.NilType:
		return false
	default:
		return obj.IsTruthy()
	}
}
