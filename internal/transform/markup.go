package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"

	builderrors "github.com/conneroisu/assetstage/internal/errors"
)

const maxIncludeDepth = 16

var includeDirective = regexp.MustCompile(`@@include\(\s*["']([^"']+)["']\s*(?:,\s*\{[^)]*\}\s*)?\)`)

// IncludeDirective renders the directive that ExpandIncludes resolves.
func IncludeDirective(path string) string {
	return fmt.Sprintf("@@include(%q)", path)
}

// ExpandIncludes resolves @@include("path") directives relative to the
// including file, indenting every included line after the first to the
// directive's column, then substitutes @@pkg.* context variables.
func ExpandIncludes(ctx context.Context, f File) ([]byte, error) {
	out, err := expand(ctx, string(f.Content), f.Path, nil)
	if err != nil {
		return nil, err
	}

	r := strings.NewReplacer(
		"@@pkg.name", f.Project.Name,
		"@@pkg.version", f.Project.Version,
		"@@pkg.description", f.Project.Description,
		"@@pkg.homepage", f.Project.Homepage,
		"@@pkg.license", f.Project.License,
	)
	return []byte(r.Replace(out)), nil
}

func expand(ctx context.Context, src, path string, stack []string) (string, error) {
	if len(stack) >= maxIncludeDepth {
		return "", fmt.Errorf("include depth exceeds %d at %s", maxIncludeDepth, path)
	}
	for _, seen := range stack {
		if seen == path {
			return "", fmt.Errorf("include cycle: %s", strings.Join(append(stack, path), " -> "))
		}
	}
	stack = append(stack, path)

	matches := includeDirective.FindAllStringSubmatchIndex(src, -1)
	if len(matches) == 0 {
		return src, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		start, end := m[0], m[1]
		target := src[m[2]:m[3]]
		included := filepath.Join(filepath.Dir(path), filepath.FromSlash(target))

		data, err := os.ReadFile(included)
		if err != nil {
			return "", fmt.Errorf("include %q from %s: %w", target, path, err)
		}
		body, err := expand(ctx, string(data), included, stack)
		if err != nil {
			return "", err
		}

		b.WriteString(src[last:start])
		b.WriteString(indent(strings.TrimRight(body, "\n"), lineIndent(src, start)))
		last = end
	}
	b.WriteString(src[last:])
	return b.String(), nil
}

// lineIndent returns the whitespace before pos on its line, or "" when
// anything else precedes pos on that line.
func lineIndent(src string, pos int) string {
	lineStart := strings.LastIndexByte(src[:pos], '\n') + 1
	prefix := src[lineStart:pos]
	if strings.TrimLeft(prefix, " \t") != "" {
		return ""
	}
	return prefix
}

func indent(body, prefix string) string {
	if prefix == "" {
		return body
	}
	lines := strings.Split(body, "\n")
	for i := 1; i < len(lines); i++ {
		if lines[i] != "" {
			lines[i] = prefix + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

// LintMarkup reports structural markup findings as validation warnings.
// It never fails and never changes the content.
func LintMarkup(_ context.Context, f File) ([]byte, error) {
	name := f.Rel
	if name == "" {
		name = f.Path
	}
	for _, msg := range lint(f.Content) {
		f.warn(builderrors.NewValidationWarning(name, 0, msg))
	}
	return f.Content, nil
}

func lint(content []byte) []string {
	var findings []string
	if !bytes.HasPrefix(bytes.TrimSpace(bytes.ToLower(content[:min(len(content), 64)])), []byte("<!doctype html")) {
		findings = append(findings, "document does not start with <!doctype html>")
	}

	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return append(findings, fmt.Sprintf("unparseable markup: %v", err))
	}

	var (
		title    *html.Node
		hasLang  bool
		ids      = make(map[string]int)
		noAltImg int
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == nil {
					title = n
				}
			case "html":
				hasLang = attr(n, "lang") != ""
			case "img":
				if _, ok := lookupAttr(n, "alt"); !ok {
					noAltImg++
				}
			}
			if id := attr(n, "id"); id != "" {
				ids[id]++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if title == nil || strings.TrimSpace(textContent(title)) == "" {
		findings = append(findings, "missing or empty <title>")
	}
	if !hasLang {
		findings = append(findings, "<html> element has no lang attribute")
	}
	if noAltImg > 0 {
		findings = append(findings, fmt.Sprintf("%d <img> element(s) without alt attribute", noAltImg))
	}
	for _, id := range sortedKeys(ids) {
		if ids[id] > 1 {
			findings = append(findings, fmt.Sprintf("duplicate id %q (%d occurrences)", id, ids[id]))
		}
	}
	return findings
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func textContent(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

const onePixelSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="1" height="1"></svg>`

// PlaceholderImage is the data URI substituted for src=# image sources.
var PlaceholderImage = `"data:image/svg+xml;base64,` + base64.StdEncoding.EncodeToString([]byte(onePixelSVG)) + `"`

// ReplacePlaceholders swaps src=# for a 1x1 transparent SVG so images that
// are filled in at runtime do not trigger a request for the page itself.
func ReplacePlaceholders(_ context.Context, f File) ([]byte, error) {
	return bytes.ReplaceAll(f.Content, []byte("src=#"), []byte("src="+PlaceholderImage)), nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
