package transform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetstage/internal/config"
	builderrors "github.com/conneroisu/assetstage/internal/errors"
)

func run(t *testing.T, fn Func, content string) string {
	t.Helper()
	out, err := fn(context.Background(), File{Content: []byte(content)})
	require.NoError(t, err)
	return string(out)
}

func TestRegistryChain(t *testing.T) {
	r := NewRegistry()
	r.Register("upper", func(_ context.Context, f File) ([]byte, error) {
		return []byte(strings.ToUpper(string(f.Content))), nil
	})
	r.Register("exclaim", func(_ context.Context, f File) ([]byte, error) {
		return append(f.Content, '!'), nil
	})

	chain, err := r.Chain("upper", "exclaim")
	require.NoError(t, err)
	assert.Equal(t, "HI!", run(t, chain, "hi"))

	identity, err := r.Chain()
	require.NoError(t, err)
	assert.Equal(t, "same", run(t, identity, "same"))

	_, err = r.Chain("upper", "missing")
	assert.ErrorContains(t, err, `unknown transform "missing"`)
}

func TestDefaultRegistryNames(t *testing.T) {
	assert.Equal(t, []string{
		"identity",
		"markup.include",
		"markup.lint",
		"markup.placeholder",
		"script.minify",
		"style.compile",
		"style.minify",
	}, Default().Names())
}

func TestScanRoundTrip(t *testing.T) {
	src := "var re = /a\\/b[/]c/g; // note\nvar s = 'it''s'; /* block */ var t = `x ${ {a:1}.a } // not a comment`;\nreturn /x/.test(s) ? a / b : 0;"
	segs, err := scan(src, scriptSyntax)
	require.NoError(t, err)

	var rebuilt strings.Builder
	var comments []string
	for _, s := range segs {
		rebuilt.WriteString(s.text)
		if s.isComment() {
			comments = append(comments, s.text)
		}
	}
	assert.Equal(t, src, rebuilt.String())
	assert.Equal(t, []string{"// note", "/* block */"}, comments)
}

func TestScanErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"comment", "a {}\n/* open", "line 2: unterminated comment"},
		{"string", "var s = 'abc\n';", "line 1: unterminated string"},
		{"template", "var s = `abc", "unterminated template literal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scan(tt.src, scriptSyntax)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCompileStyle(t *testing.T) {
	src := "@accent: #336699;\n// line comment\n.a { color: @accent; background: url(http://x.test/a.png); }\n/* kept */\n"
	out := run(t, CompileStyle, src)

	assert.NotContains(t, out, "line comment")
	assert.NotContains(t, out, "@accent")
	assert.Contains(t, out, "color: #336699;")
	assert.Contains(t, out, "url(http://x.test/a.png)")
	assert.Contains(t, out, "/* kept */")
}

func TestCompileStyleRejectsUnbalancedBraces(t *testing.T) {
	_, err := CompileStyle(context.Background(), File{Content: []byte(".a { color: red;\n")})
	assert.ErrorContains(t, err, "unclosed")

	_, err = CompileStyle(context.Background(), File{Content: []byte(".a { }\n}\n")})
	assert.ErrorContains(t, err, "line 2: unexpected '}'")

	out := run(t, CompileStyle, `.a::before { content: "{"; }`)
	assert.Contains(t, out, `content: "{"`)
}

func TestMinifyStyleStripsAllComments(t *testing.T) {
	out := run(t, MinifyStyle, "/*! license */\n.a {\n  color : red ;\n}\n/* note */\n")
	assert.NotContains(t, out, "license")
	assert.NotContains(t, out, "note")
	assert.Contains(t, out, ".a{color:red}")
}

func TestMustPreserve(t *testing.T) {
	tests := []struct {
		body string
		keep bool
	}{
		{"! keep me", true},
		{" MIT License", true},
		{" Licence text", true},
		{" Copyright 2024", true},
		{" @preserve", true},
		{" just a note", false},
		{" not ! bang", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.keep, MustPreserve(tt.body), tt.body)
	}
}

func TestMinifyScriptCommentPreservationLaw(t *testing.T) {
	src := strings.Join([]string{
		"/*! keep-bang */",
		"// plain line comment",
		"/* Copyright ACME */",
		"function add(first, second) { // trailing note",
		"  /* inner detail */",
		"  return first + second; //@preserve tail",
		"}",
		"var url = 'http://example.com/*not-a-comment*/';",
	}, "\n")

	out := run(t, MinifyScript, src)

	for _, kept := range []string{"/*! keep-bang */", "/* Copyright ACME */", "//@preserve tail"} {
		assert.Equal(t, 1, strings.Count(out, kept), kept)
	}
	for _, dropped := range []string{"plain line comment", "trailing note", "inner detail"} {
		assert.NotContains(t, out, dropped)
	}
	assert.Contains(t, out, "/*not-a-comment*/")
	assert.True(t, strings.HasPrefix(out, "/*! keep-bang */\n/* Copyright ACME */\n//@preserve tail\n"))

	tests := []struct {
		name string
		src  string
		code string
	}{
		{name: "division after postfix increment", src: "var u = a++ / 2; // gone\n", code: "/2"},
		{name: "division after postfix decrement", src: "var d = i-- / 2 / 4; // gone\n", code: "/2/4"},
		{name: "regex after statement block", src: "if (a) { b(); }\n/[/*]/.test(s); // gone\n", code: "/[/*]/"},
		{name: "division after object literal", src: "var r = {a: 8}.a / 2; // gone\n", code: "/2"},
		{name: "regex after arrow body", src: "var f = () => {};\nvar m = /\\/\\//g; // gone\n", code: "/\\/\\//g"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, MinifyScript, tt.src+"/* Copyright ACME */\n")
			assert.Equal(t, 1, strings.Count(out, "/* Copyright ACME */"))
			assert.NotContains(t, out, "gone")
			assert.Contains(t, out, tt.code)
		})
	}
}

func TestMinifyScriptSyntaxError(t *testing.T) {
	_, err := MinifyScript(context.Background(), File{Content: []byte("function ( {")})
	assert.Error(t, err)
}

func TestExpandIncludes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "parts"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parts", "nav.html"), []byte("<nav>\n   <a>@@pkg.name</a>\n</nav>\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parts", "header.html"), []byte("<header>\n   @@include(\"nav.html\")\n</header>\n"), 0644))

	page := filepath.Join(dir, "index.html")
	src := "<body>\n   @@include(\"parts/header.html\")\n</body>\n"

	out, err := ExpandIncludes(context.Background(), File{
		Path:    page,
		Content: []byte(src),
		Project: config.Project{Name: "DataDashboard"},
	})
	require.NoError(t, err)

	expected := "<body>\n   <header>\n      <nav>\n         <a>DataDashboard</a>\n      </nav>\n   </header>\n</body>\n"
	assert.Equal(t, expected, string(out))
}

func TestExpandIncludesErrors(t *testing.T) {
	dir := t.TempDir()
	loop := filepath.Join(dir, "loop.html")
	require.NoError(t, os.WriteFile(loop, []byte(`@@include("loop.html")`), 0644))

	_, err := ExpandIncludes(context.Background(), File{Path: loop, Content: []byte(`@@include("loop.html")`)})
	assert.ErrorContains(t, err, "include cycle")

	_, err = ExpandIncludes(context.Background(), File{Path: loop, Content: []byte(`@@include("missing.html")`)})
	assert.ErrorContains(t, err, `include "missing.html"`)
}

func TestLintMarkupWarnsButPasses(t *testing.T) {
	var warnings []*builderrors.BuildError
	src := `<html><head><title> </title></head><body><img src="a.png"><p id="x"></p><p id="x"></p></body></html>`

	out, err := LintMarkup(context.Background(), File{
		Rel:     "index.html",
		Content: []byte(src),
		Warn:    func(w *builderrors.BuildError) { warnings = append(warnings, w) },
	})
	require.NoError(t, err)
	assert.Equal(t, src, string(out))

	var msgs []string
	for _, w := range warnings {
		assert.Equal(t, builderrors.KindValidation, w.Kind)
		msgs = append(msgs, w.Message)
	}
	assert.Equal(t, []string{
		"document does not start with <!doctype html>",
		"missing or empty <title>",
		"<html> element has no lang attribute",
		"1 <img> element(s) without alt attribute",
		`duplicate id "x" (2 occurrences)`,
	}, msgs)
}

func TestLintMarkupCleanDocument(t *testing.T) {
	var warnings int
	src := `<!doctype html><html lang="en"><head><title>App</title></head><body><img src="a.png" alt=""></body></html>`
	_, err := LintMarkup(context.Background(), File{
		Content: []byte(src),
		Warn:    func(*builderrors.BuildError) { warnings++ },
	})
	require.NoError(t, err)
	assert.Zero(t, warnings)
}

func TestReplacePlaceholders(t *testing.T) {
	out := run(t, ReplacePlaceholders, `<img src=# alt="avatar">`)
	assert.Equal(t, `<img src=`+PlaceholderImage+` alt="avatar">`, out)
	assert.True(t, strings.HasPrefix(PlaceholderImage, `"data:image/svg+xml;base64,`))
}
