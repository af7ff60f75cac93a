// Package transform holds the per-file content transforms applied inside a
// pipeline stage. A transform is a pure function from a file's content and
// metadata to new content; stages look transforms up by name so the chain
// for each asset class is plain configuration.
package transform

import (
	"context"
	"fmt"
	"sort"

	"github.com/conneroisu/assetstage/internal/config"
	builderrors "github.com/conneroisu/assetstage/internal/errors"
)

// File is the input of a transform.
type File struct {
	// Path is the file location on disk, used to resolve includes.
	Path string
	// Rel is the slash-separated path relative to the project root.
	Rel     string
	Class   string
	Content []byte
	Project config.Project
	// Warn receives non-fatal findings. May be nil.
	Warn func(*builderrors.BuildError)
}

func (f File) warn(w *builderrors.BuildError) {
	if f.Warn != nil {
		f.Warn(w)
	}
}

// Func transforms one file.
type Func func(ctx context.Context, f File) ([]byte, error)

// Registry maps transform names to functions. It is populated before a run
// and only read afterwards.
type Registry struct {
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Default returns a registry with every built-in transform.
func Default() *Registry {
	r := NewRegistry()
	r.Register("identity", Identity)
	r.Register("style.compile", CompileStyle)
	r.Register("style.minify", MinifyStyle)
	r.Register("script.minify", MinifyScript)
	r.Register("markup.include", ExpandIncludes)
	r.Register("markup.lint", LintMarkup)
	r.Register("markup.placeholder", ReplacePlaceholders)
	return r
}

// Register adds or replaces a transform.
func (r *Registry) Register(name string, fn Func) {
	r.funcs[name] = fn
}

// Get returns the named transform.
func (r *Registry) Get(name string) (Func, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names lists registered transforms in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chain composes the named transforms left to right. An empty list yields
// Identity.
func (r *Registry) Chain(names ...string) (Func, error) {
	chain := make([]Func, 0, len(names))
	for _, name := range names {
		fn, ok := r.funcs[name]
		if !ok {
			return nil, fmt.Errorf("unknown transform %q", name)
		}
		chain = append(chain, fn)
	}
	if len(chain) == 0 {
		return Identity, nil
	}

	return func(ctx context.Context, f File) ([]byte, error) {
		for _, fn := range chain {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out, err := fn(ctx, f)
			if err != nil {
				return nil, err
			}
			f.Content = out
		}
		return f.Content, nil
	}, nil
}

// Identity returns the content unchanged.
func Identity(_ context.Context, f File) ([]byte, error) {
	return f.Content, nil
}
