package transform

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var preservePattern = regexp.MustCompile(`(?i)licen[sc]e|copyright|@preserve|^!`)

// MustPreserve reports whether a comment body (text without delimiters)
// has to survive minification: license and copyright notices, @preserve
// markers, and comments whose body starts with '!'.
func MustPreserve(body string) bool {
	return preservePattern.MatchString(body)
}

// MinifyScript minifies a script. Comments matching MustPreserve are kept
// verbatim, in source order, one per line ahead of the minified code; every
// other comment is discarded.
func MinifyScript(_ context.Context, f File) ([]byte, error) {
	src := string(f.Content)
	segs, err := scan(src, scriptSyntax)
	if err != nil {
		return nil, err
	}

	var preserved []string
	for _, s := range segs {
		if s.isComment() && MustPreserve(s.body()) {
			preserved = append(preserved, s.text)
		}
	}

	stripped := join(segs, func(segment) bool { return false })
	code, err := minifier.Bytes(mediaTypeJS, []byte(stripped))
	if err != nil {
		return nil, fmt.Errorf("minifying script: %w", err)
	}

	if len(preserved) == 0 {
		return code, nil
	}
	var b strings.Builder
	for _, comment := range preserved {
		b.WriteString(comment)
		b.WriteByte('\n')
	}
	b.Write(code)
	return []byte(b.String()), nil
}
