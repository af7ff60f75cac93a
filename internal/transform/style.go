package transform

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"
)

const (
	mediaTypeCSS = "text/css"
	mediaTypeJS  = "application/javascript"
)

var minifier = newMinifier()

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc(mediaTypeCSS, css.Minify)
	m.AddFunc(mediaTypeJS, js.Minify)
	return m
}

var (
	lessVariableDef = regexp.MustCompile(`(?m)^[ \t]*@([A-Za-z_][\w-]*)[ \t]*:[ \t]*([^;{}\n]+);[ \t]*\n?`)
	lessVariableRef = regexp.MustCompile(`@([A-Za-z_][\w-]*)`)
)

// CompileStyle is the style-language front end. It rejects unbalanced
// braces and unterminated comments or strings, drops // line comments and
// substitutes top-level @variable definitions.
func CompileStyle(_ context.Context, f File) ([]byte, error) {
	src := string(f.Content)
	segs, err := scan(src, lessSyntax)
	if err != nil {
		return nil, err
	}
	if err := checkBraces(src, segs); err != nil {
		return nil, err
	}

	out := join(segs, func(s segment) bool { return s.kind == segBlockComment })
	return []byte(substituteVariables(out)), nil
}

func checkBraces(src string, segs []segment) error {
	depth, offset := 0, 0
	for _, s := range segs {
		if s.kind == segCode {
			for i := 0; i < len(s.text); i++ {
				switch s.text[i] {
				case '{':
					depth++
				case '}':
					depth--
					if depth < 0 {
						return scanErr(src, offset+i, "unexpected '}'")
					}
				}
			}
		}
		offset += len(s.text)
	}
	if depth != 0 {
		return fmt.Errorf("%d unclosed '{'", depth)
	}
	return nil
}

func substituteVariables(src string) string {
	vars := make(map[string]string)
	for _, m := range lessVariableDef.FindAllStringSubmatch(src, -1) {
		vars[m[1]] = strings.TrimSpace(m[2])
	}
	if len(vars) == 0 {
		return src
	}

	src = lessVariableDef.ReplaceAllString(src, "")
	// Values may reference earlier variables; resolve a few levels deep.
	for depth := 0; depth < 4; depth++ {
		replaced := lessVariableRef.ReplaceAllStringFunc(src, func(ref string) string {
			if value, ok := vars[ref[1:]]; ok {
				return value
			}
			return ref
		})
		if replaced == src {
			break
		}
		src = replaced
	}
	return src
}

// MinifyStyle strips every comment and minifies the stylesheet.
func MinifyStyle(_ context.Context, f File) ([]byte, error) {
	src := string(f.Content)
	segs, err := scan(src, cssSyntax)
	if err != nil {
		return nil, err
	}

	stripped := join(segs, func(segment) bool { return false })
	out, err := minifier.Bytes(mediaTypeCSS, []byte(stripped))
	if err != nil {
		return nil, fmt.Errorf("minifying css: %w", err)
	}
	return out, nil
}
