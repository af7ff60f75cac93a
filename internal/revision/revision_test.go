package revision

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetstage/internal/config"
	"github.com/conneroisu/assetstage/internal/fsutil"
	"github.com/conneroisu/assetstage/internal/logging"
)

func TestRevisionedName(t *testing.T) {
	tests := []struct {
		rel      string
		expected string
	}{
		{"app.css", "app.abc123.css"},
		{"graphics/logo.svg", "graphics/logo.abc123.svg"},
		{"libraries.dist.js", "libraries.dist.abc123.js"},
		{"CNAME", "CNAME.abc123"},
		{".nojekyll", ".nojekyll.abc123"},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.expected, RevisionedName(tt.rel, "abc123"))
		})
	}
}

func TestDigest(t *testing.T) {
	a := Digest([]byte("body{color:red}"), 8)
	assert.Len(t, a, 8)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{8}$`), a)
	assert.Equal(t, a, Digest([]byte("body{color:red}"), 8))
	assert.NotEqual(t, a, Digest([]byte("body{color:blue}"), 8))
	assert.Len(t, Digest(nil, 0), 64)
}

func TestBuildReferenceMapCollisions(t *testing.T) {
	refs, err := BuildReferenceMap([]Asset{
		{Path: "a.js", Revised: "a.1111.js"},
		{Path: "index.html", Revised: "index.html", Exempt: true},
	})
	require.NoError(t, err)
	assert.Equal(t, ReferenceMap{"a.js": "a.1111.js"}, refs)

	_, err = BuildReferenceMap([]Asset{
		{Path: "a.js", Revised: "a.1111.js"},
		{Path: "a.1111.js", Revised: "a.1111.2222.js"},
	})
	assert.ErrorContains(t, err, "digest collision")

	_, err = BuildReferenceMap([]Asset{
		{Path: "x/a.js", Revised: "x/a.1111.js"},
		{Path: "x/a.js", Revised: "x/a.1111.js"},
	})
	assert.ErrorContains(t, err, "both revision to x/a.1111.js")
}

func TestRewriter(t *testing.T) {
	refs := ReferenceMap{
		"app.js":            "app.1111.js",
		"app.css":           "app.2222.css",
		"graphics/logo.svg": "graphics/logo.3333.svg",
		"graphics/bg.png":   "graphics/bg.4444.png",
	}
	r := NewRewriter(refs)

	tests := []struct {
		name     string
		file     string
		input    string
		expected string
	}{
		{
			name:     "relative and dot-relative from root",
			file:     "index.html",
			input:    `<script src="app.js"></script><link href="./app.css"><img src=graphics/logo.svg>`,
			expected: `<script src="app.1111.js"></script><link href="./app.2222.css"><img src=graphics/logo.3333.svg>`,
		},
		{
			name:     "root-absolute",
			file:     "index.html",
			input:    `<img src="/graphics/logo.svg">`,
			expected: `<img src="/graphics/logo.3333.svg">`,
		},
		{
			name:     "parent-relative from a subdirectory",
			file:     "css/theme.css",
			input:    `a{background:url(../graphics/bg.png)}`,
			expected: `a{background:url(../graphics/bg.4444.png)}`,
		},
		{
			name:     "sibling in a subdirectory",
			file:     "graphics/sprite.svg",
			input:    `<use href="logo.svg#mark"/>`,
			expected: `<use href="logo.3333.svg#mark"/>`,
		},
		{
			name:     "query and fragment suffixes",
			file:     "index.html",
			input:    `"app.js?v=1" "app.css#x"`,
			expected: `"app.1111.js?v=1" "app.2222.css#x"`,
		},
		{
			name:     "no match inside longer names",
			file:     "index.html",
			input:    `"myapp.js" "app.json" "app.js.map" "lib/app.js" "https://cdn.test/app.js"`,
			expected: `"myapp.js" "app.json" "app.js.map" "lib/app.js" "https://cdn.test/app.js"`,
		},
		{
			name:     "untouched when nothing matches",
			file:     "about.html",
			input:    `<p>plain text</p>`,
			expected: `<p>plain text</p>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Rewrite(tt.file, []byte(tt.input))
			assert.Equal(t, tt.expected, string(out))
			assert.Equal(t, string(out), string(r.Rewrite(tt.file, out)), "rewriting twice changes nothing")
		})
	}
}

func TestRewriteAbsolute(t *testing.T) {
	out := RewriteAbsolute(
		[]byte(`<meta property="og:image" content="./graphics/logo-card.3333.png">`),
		[]config.AbsoluteRewrite{{From: "./graphics/logo-card", To: "https://demo.test/graphics/logo-card"}, {}},
	)
	assert.Equal(t, `<meta property="og:image" content="https://demo.test/graphics/logo-card.3333.png">`, string(out))
}

func minifiedTree() map[string]string {
	return map[string]string{
		"index.html": `<!doctype html><html lang="en"><head><title>demo</title>` +
			`<meta property="og:image" content="./graphics/logo-card.png">` +
			`<link rel="stylesheet" href="demo.css"><link rel="stylesheet" href="css/extra.css"></head>` +
			`<body><img src="graphics/logo.svg" alt="logo"><script src="demo.js"></script></body></html>`,
		"demo.css":               `body{background:url(graphics/logo.svg)}`,
		"css/extra.css":          `p{background:url(../graphics/logo-card.png)}`,
		"demo.js":                `fetch("graphics/logo.svg")`,
		"graphics/logo.svg":      `<svg></svg>`,
		"graphics/logo-card.png": "\x89PNG\x00binary demo.css",
	}
}

func setup(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.Revision.Absolute = []config.AbsoluteRewrite{{From: "./graphics/logo-card", To: "https://demo.test/graphics/logo-card"}}
	for rel, content := range minifiedTree() {
		require.NoError(t, fsutil.WriteFile(filepath.Join(cfg.MinifiedDir(), filepath.FromSlash(rel)), []byte(content)))
	}
	return cfg
}

func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	files, err := fsutil.ListFiles(dir)
	require.NoError(t, err)
	out := make(map[string]string, len(files))
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		require.NoError(t, err)
		out[rel] = string(data)
	}
	return out
}

func TestRevisionerRun(t *testing.T) {
	cfg := setup(t)
	rev := New(cfg, logging.NewDiscard())

	result, err := rev.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Assets, 6)
	assert.Len(t, result.References, 5, "every file but the exempt document is renamed")
	assert.Contains(t, result.Outputs(), "index.html")

	named := regexp.MustCompile(`^(css/extra|demo|graphics/logo|graphics/logo-card)\.[0-9a-f]{8}\.(css|js|svg|png)$`)
	for orig, revised := range result.References {
		assert.Regexp(t, named, revised, orig)
	}

	prod := snapshot(t, cfg.ProductionDir())
	assert.Len(t, prod, 6)

	index := prod["index.html"]
	assert.Contains(t, index, `href="`+result.References["demo.css"]+`"`)
	assert.Contains(t, index, `href="`+result.References["css/extra.css"]+`"`)
	assert.Contains(t, index, `src="`+result.References["demo.js"]+`"`)
	assert.Contains(t, index, `content="https://demo.test/`+result.References["graphics/logo-card.png"]+`"`)

	extra := prod[result.References["css/extra.css"]]
	assert.Equal(t, `p{background:url(../`+result.References["graphics/logo-card.png"]+`)}`, extra)

	// Binary files are copied untouched even when their bytes look like a reference.
	assert.Equal(t, minifiedTree()["graphics/logo-card.png"], prod[result.References["graphics/logo-card.png"]])
}

func TestRevisionerNoDanglingReferences(t *testing.T) {
	cfg := setup(t)
	result, err := New(cfg, logging.NewDiscard()).Run(context.Background())
	require.NoError(t, err)

	prod := snapshot(t, cfg.ProductionDir())
	for rel, content := range prod {
		if strings.HasSuffix(rel, ".png") {
			continue
		}
		for orig := range result.References {
			bounded := regexp.MustCompile(`(^|[^\w./-])(\./|\.\./|/)?` + regexp.QuoteMeta(orig) + `($|[^\w./-])`)
			assert.False(t, bounded.MatchString(content), "%s still references %s", rel, orig)
		}
	}
}

func TestRevisionerIdempotent(t *testing.T) {
	cfg := setup(t)
	rev := New(cfg, logging.NewDiscard())

	first, err := rev.Run(context.Background())
	require.NoError(t, err)
	before := snapshot(t, cfg.ProductionDir())

	second, err := rev.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.References, second.References)
	assert.Equal(t, before, snapshot(t, cfg.ProductionDir()))
}

func TestRevisionerRespectsExemptions(t *testing.T) {
	cfg := setup(t)
	cfg.Revision.ExemptExtensions = []string{".html", ".PNG"}

	result, err := New(cfg, logging.NewDiscard()).Run(context.Background())
	require.NoError(t, err)

	for _, a := range result.Assets {
		switch filepath.Ext(a.Path) {
		case ".html", ".png":
			assert.True(t, a.Exempt, a.Path)
			assert.Equal(t, a.Path, a.Revised)
		default:
			assert.False(t, a.Exempt, a.Path)
			assert.NotEqual(t, a.Path, a.Revised)
		}
	}
	_, err = os.Stat(filepath.Join(cfg.ProductionDir(), "graphics", "logo-card.png"))
	assert.NoError(t, err)
}

func TestWriteManifest(t *testing.T) {
	file := filepath.Join(t.TempDir(), "out", "manifest.json")
	refs := ReferenceMap{"b.js": "b.2.js", "a.css": "a.1.css"}
	require.NoError(t, refs.WriteManifest(file))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a.css\": \"a.1.css\",\n  \"b.js\": \"b.2.js\"\n}\n", string(data))

	var decoded ReferenceMap
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, refs, decoded)
}
