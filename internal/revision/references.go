package revision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/assetstage/internal/config"
	"github.com/conneroisu/assetstage/internal/fsutil"
)

// ReferenceMap maps original paths to revisioned paths, both relative to
// the tree root. It is built completely before any file is rewritten and
// not modified afterwards.
type ReferenceMap map[string]string

// BuildReferenceMap freezes the renamed assets into a map. Two assets that
// end up at the same revisioned path, or a revisioned path that shadows an
// original file, are reported as collisions.
func BuildReferenceMap(assets []Asset) (ReferenceMap, error) {
	refs := make(ReferenceMap, len(assets))
	originals := make(map[string]bool, len(assets))
	for _, a := range assets {
		originals[a.Path] = true
	}

	owner := make(map[string]string, len(assets))
	for _, a := range assets {
		if a.Exempt {
			continue
		}
		if prev, ok := owner[a.Revised]; ok {
			return nil, fmt.Errorf("digest collision: %s and %s both revision to %s", prev, a.Path, a.Revised)
		}
		if originals[a.Revised] {
			return nil, fmt.Errorf("digest collision: %s revisions to existing file %s", a.Path, a.Revised)
		}
		owner[a.Revised] = a.Path
		refs[a.Path] = a.Revised
	}
	return refs, nil
}

// WriteManifest writes the map as indented JSON with sorted keys.
func (m ReferenceMap) WriteManifest(file string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return fsutil.WriteFile(file, append(data, '\n'))
}

// Rewriter replaces references to original paths with their revisioned
// paths. A reference is recognized in three spellings as seen from the
// referring file's directory: relative ("img/a.png", "../img/a.png"),
// dot-relative ("./img/a.png") and root-absolute ("/img/a.png"). It must be
// bounded on both sides by characters that cannot be part of a path, so
// "a.js" never matches inside "data.js" or "a.json".
type Rewriter struct {
	refs ReferenceMap

	mu    sync.Mutex
	byDir map[string]*dirRewriter
}

type dirRewriter struct {
	pattern      *regexp.Regexp
	replacements map[string]string
}

// NewRewriter creates a rewriter over a frozen reference map.
func NewRewriter(refs ReferenceMap) *Rewriter {
	return &Rewriter{refs: refs, byDir: make(map[string]*dirRewriter)}
}

// Rewrite rewrites content of the file at rel.
func (r *Rewriter) Rewrite(rel string, content []byte) []byte {
	dr := r.forDir(path.Dir(rel))
	if dr == nil {
		return content
	}

	matches := dr.pattern.FindAllIndex(content, -1)
	if len(matches) == 0 {
		return content
	}

	out := make([]byte, 0, len(content)+len(matches)*12)
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > 0 && isPathByte(content[start-1]) {
			continue
		}
		if end < len(content) && isPathByte(content[end]) {
			continue
		}
		out = append(out, content[last:start]...)
		out = append(out, dr.replacements[string(content[start:end])]...)
		last = end
	}
	return append(out, content[last:]...)
}

func (r *Rewriter) forDir(dir string) *dirRewriter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dr, ok := r.byDir[dir]; ok {
		return dr
	}

	replacements := make(map[string]string, len(r.refs)*3)
	for orig, revised := range r.refs {
		relOrig, relRevised := relativeFrom(dir, orig), relativeFrom(dir, revised)
		replacements[relOrig] = relRevised
		if !strings.HasPrefix(relOrig, "../") {
			replacements["./"+relOrig] = "./" + relRevised
		}
		replacements["/"+orig] = "/" + revised
	}

	var dr *dirRewriter
	if len(replacements) > 0 {
		forms := make([]string, 0, len(replacements))
		for form := range replacements {
			forms = append(forms, form)
		}
		// Longest first, so a longer spelling wins over its suffix.
		sort.Slice(forms, func(i, j int) bool {
			if len(forms[i]) != len(forms[j]) {
				return len(forms[i]) > len(forms[j])
			}
			return forms[i] < forms[j]
		})
		for i, form := range forms {
			forms[i] = regexp.QuoteMeta(form)
		}
		dr = &dirRewriter{
			pattern:      regexp.MustCompile(strings.Join(forms, "|")),
			replacements: replacements,
		}
	}
	r.byDir[dir] = dr
	return dr
}

// relativeFrom returns target relative to dir, both slash-separated and
// relative to the same root.
func relativeFrom(dir, target string) string {
	if dir == "." || dir == "" {
		return target
	}
	rel, err := filepath.Rel(filepath.FromSlash(dir), filepath.FromSlash(target))
	if err != nil {
		return target
	}
	return filepath.ToSlash(rel)
}

func isPathByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '.', '/', '_', '-', '~', '%', '+', '@':
		return true
	}
	return false
}

// RewriteAbsolute applies the fixed absolute-URL rewrites in order. From
// must not be preceded by a path character, so "./img" never matches
// inside "../img".
func RewriteAbsolute(content []byte, rewrites []config.AbsoluteRewrite) []byte {
	for _, rw := range rewrites {
		if rw.From == "" {
			continue
		}
		from := []byte(rw.From)
		var out []byte
		last := 0
		for pos := 0; pos < len(content); {
			i := bytes.Index(content[pos:], from)
			if i < 0 {
				break
			}
			start := pos + i
			pos = start + len(from)
			if start > 0 && isPathByte(content[start-1]) {
				continue
			}
			out = append(out, content[last:start]...)
			out = append(out, rw.To...)
			last = pos
		}
		if out != nil {
			content = append(out, content[last:]...)
		}
	}
	return content
}
