package assemble

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/conneroisu/assetstage/internal/config"
)

// Source is one file matched by an asset class.
type Source struct {
	// Rel is the slash-separated path relative to the project root.
	Rel string
	// BaseRel is Rel relative to the static base of the matching glob.
	BaseRel string
}

// Resolve collects the files matched by the class globs, minus its
// exclusions, in lexical order. A file matched by several globs is listed
// once, with the base of the first glob that matched it.
func Resolve(fsys fs.FS, class config.AssetClass) ([]Source, error) {
	seen := make(map[string]bool)
	var sources []Source

	for _, glob := range class.Globs {
		pattern := path.Clean(strings.TrimPrefix(glob, "./"))
		base, _ := doublestar.SplitPattern(pattern)

		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", glob, err)
		}
		for _, rel := range matches {
			if seen[rel] || excluded(rel, class.Exclude) {
				continue
			}
			seen[rel] = true
			sources = append(sources, Source{Rel: rel, BaseRel: relativeTo(base, rel)})
		}
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Rel < sources[j].Rel })
	return sources, nil
}

// ResolveDir is Resolve rooted at a directory on disk.
func ResolveDir(root string, class config.AssetClass) ([]Source, error) {
	return Resolve(os.DirFS(root), class)
}

func excluded(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(strings.TrimPrefix(p, "./"), rel); ok {
			return true
		}
	}
	return false
}

func relativeTo(base, rel string) string {
	if base == "." || base == "" {
		return rel
	}
	return strings.TrimPrefix(rel, base+"/")
}

// Order arranges sources by a priority list. Entries are globs matched
// against both the root-relative and the base-relative path. Plain entries
// come first in listed order, then every unlisted source in lexical order,
// then entries prefixed with '!' in listed order. sources must already be
// in lexical order.
func Order(sources []Source, order []string) []Source {
	if len(order) == 0 {
		return sources
	}

	placed := make([]bool, len(sources))
	claim := func(entry string) []Source {
		var out []Source
		for i, src := range sources {
			if !placed[i] && entryMatches(entry, src) {
				placed[i] = true
				out = append(out, src)
			}
		}
		return out
	}

	var head, tail []Source
	for _, entry := range order {
		if !strings.HasPrefix(entry, "!") {
			head = append(head, claim(entry)...)
		}
	}
	for _, entry := range order {
		if strings.HasPrefix(entry, "!") {
			tail = append(tail, claim(entry[1:])...)
		}
	}

	ordered := make([]Source, 0, len(sources))
	ordered = append(ordered, head...)
	for i, src := range sources {
		if !placed[i] {
			ordered = append(ordered, src)
		}
	}
	return append(ordered, tail...)
}

func entryMatches(entry string, src Source) bool {
	entry = strings.TrimPrefix(entry, "./")
	if ok, _ := doublestar.Match(entry, src.Rel); ok {
		return true
	}
	ok, _ := doublestar.Match(entry, src.BaseRel)
	return ok
}
