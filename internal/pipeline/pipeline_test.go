package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/conneroisu/assetstage/internal/config"
	builderrors "github.com/conneroisu/assetstage/internal/errors"
	"github.com/conneroisu/assetstage/internal/fsutil"
	"github.com/conneroisu/assetstage/internal/logging"
	"github.com/conneroisu/assetstage/internal/metrics"
)

const indexHTML = `<!doctype html>
<html lang=en>
<head>
   <meta charset=utf-8>
   <title>@@pkg.name</title>
   <meta property="og:image" content="./graphics/logo-card.png">
   <link rel=stylesheet href="libraries.css">
   <link rel=stylesheet href="@@pkg.name.css">
</head>
<body>
   <header><h1>@@pkg.name</h1></header>
   <main>
      @@include("../html/generated/widgets.gen.html")
      <img src=# alt=avatar>
   </main>
   <footer>v@@pkg.version</footer>
   <script src="libraries.dist.js"></script>
   <script src="libraries.js"></script>
   <script src="@@pkg.name.js"></script>
</body>
</html>
`

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		require.NoError(t, fsutil.WriteFile(filepath.Join(root, filepath.FromSlash(rel)), []byte(content)))
	}
	return root
}

func projectFiles() map[string]string {
	return map[string]string{
		"package.json": `{
			// project metadata
			"name": "DataDashboard",
			"version": "2.1.0",
			"homepage": "https://data-dashboard.js.org",
			"license": "MIT",
		}`,
		"src/web/css/base.less":                  "@brand: #0a7;\n// theme\nheader { color: @brand; }\nmain { background: url(../graphics/logo-card.png); }\n",
		"src/web/js/app.js":                      "/*! DataDashboard app */\n// boot\nconst app = { start() { return 'go'; } };\napp.start();\n",
		"src/web/widgets/chart.html":             "<section class=chart></section>",
		"src/web/root/index.html":                indexHTML,
		"src/web/assets/graphics/logo-card.png":  "\x89PNG card",
		"node_modules/lib/reset.css":             "* { margin: 0; }\n",
		"node_modules/lib/moment.js":             "// Copyright moment\nvar moment = function () { return 1; };\n",
		"node_modules/lib/jquery.min.js":         "/*! jQuery */var $=1;",
	}
}

func loadConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	v := viper.New()
	v.Set("root", root)
	v.Set("libraries", map[string]interface{}{
		"css":         []string{"node_modules/lib/reset.css"},
		"js":          []string{"node_modules/lib/moment.js"},
		"js_minified": []string{"node_modules/lib/jquery.min.js"},
	})
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	return cfg
}

func countElements(n *html.Node, parent, tag string) int {
	count := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag && n.Parent != nil && n.Parent.Data == parent {
			count++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return count
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
		return n.FirstChild.Data
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if title := findTitle(c); title != "" {
			return title
		}
	}
	return ""
}

func TestReleaseEndToEnd(t *testing.T) {
	root := writeProject(t, projectFiles())
	cfg := loadConfig(t, root)

	reg := prom.NewRegistry()
	p := New(cfg, logging.NewDiscard(), WithRecorder(metrics.NewPrometheusRecorder(reg)))
	var completed []Stage
	p.AddCallback(func(r StageResult) { completed = append(completed, r.Stage) })

	results, err := p.Release(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []Stage{StageBuild, StageMinify, StageRevision}, completed)

	assert.Equal(t, []string{
		"DataDashboard.css",
		"DataDashboard.js",
		"graphics/logo-card.png",
		"index.html",
		"libraries.css",
		"libraries.dist.js",
		"libraries.js",
	}, results[0].Outputs)
	assert.Equal(t, results[0].Outputs, results[1].Outputs)

	refs := results[2].References
	require.Len(t, refs, 6)
	hashed := regexp.MustCompile(`^(DataDashboard|libraries|libraries\.dist|graphics/logo-card)\.[0-9a-f]{8}\.(css|js|png)$`)
	for orig, revised := range refs {
		assert.Regexp(t, hashed, revised, orig)
	}

	prod, err := fsutil.ListFiles(cfg.ProductionDir())
	require.NoError(t, err)
	assert.Contains(t, prod, "index.html", "markup keeps its name")
	assert.Len(t, prod, 7)

	index, err := os.ReadFile(filepath.Join(cfg.ProductionDir(), "index.html"))
	require.NoError(t, err)
	page := string(index)
	for _, orig := range []string{"DataDashboard.css", "DataDashboard.js", "libraries.css", "libraries.js", "libraries.dist.js"} {
		assert.Contains(t, page, `"`+refs[orig]+`"`, orig)
		assert.NotContains(t, page, `"`+orig+`"`, orig)
	}
	assert.Contains(t, page, `content="https://data-dashboard.js.org/`+refs["graphics/logo-card.png"]+`"`)
	assert.Contains(t, page, `<section class=chart></section>`)
	assert.Contains(t, page, `<footer>v2.1.0</footer>`)

	doc, err := html.Parse(bytes.NewReader(index))
	require.NoError(t, err)
	assert.Equal(t, "DataDashboard", findTitle(doc))
	assert.Equal(t, 1, countElements(doc, "body", "header"))
	assert.Equal(t, 1, countElements(doc, "body", "main"))
	assert.Equal(t, 1, countElements(doc, "body", "footer"))

	css, err := os.ReadFile(filepath.Join(cfg.ProductionDir(), filepath.FromSlash(refs["DataDashboard.css"])))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(css), "/*! DataDashboard v2.1.0 ~~ https://data-dashboard.js.org ~~ MIT License */\n"))
	assert.Contains(t, string(css), "#0a7")
	assert.NotContains(t, string(css), "theme")

	js, err := os.ReadFile(filepath.Join(cfg.ProductionDir(), filepath.FromSlash(refs["DataDashboard.js"])))
	require.NoError(t, err)
	assert.Contains(t, string(js), "/*! DataDashboard app */\n")
	assert.NotContains(t, string(js), "boot")

	libs, err := os.ReadFile(filepath.Join(cfg.ProductionDir(), filepath.FromSlash(refs["libraries.js"])))
	require.NoError(t, err)
	assert.Contains(t, string(libs), "//! 3rd party library: moment.js\n// Copyright moment\n")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	successes := 0
	for _, mf := range mfs {
		if mf.GetName() != "assetstage_stage_results_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == string(metrics.ResultSuccess) {
					successes += int(m.GetCounter().GetValue())
				}
			}
		}
	}
	assert.Equal(t, 3, successes)
}

func TestReleaseDeterministic(t *testing.T) {
	root := writeProject(t, projectFiles())
	cfg := loadConfig(t, root)
	p := New(cfg, logging.NewDiscard())

	first, err := p.Release(context.Background())
	require.NoError(t, err)
	second, err := p.Release(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first[2].References, second[2].References)
}

func TestReleaseStopsAtFailedStage(t *testing.T) {
	files := projectFiles()
	files["src/web/css/broken.less"] = "main {\n"
	root := writeProject(t, files)
	cfg := loadConfig(t, root)

	p := New(cfg, logging.NewDiscard())
	var reported []Stage
	p.AddCallback(func(r StageResult) { reported = append(reported, r.Stage) })

	results, err := p.Release(context.Background())
	require.Error(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []Stage{StageBuild, StageMinify, StageRevision}, reported)

	assert.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "src/web/css/broken.less")
	for _, skipped := range results[1:] {
		assert.True(t, errors.Is(skipped.Err, builderrors.ErrStageSkipped), skipped.Stage)
	}
	_, statErr := os.Stat(cfg.MinifiedDir())
	assert.True(t, os.IsNotExist(statErr), "minify never ran")
}

func TestAssembleSelectedClasses(t *testing.T) {
	root := writeProject(t, projectFiles())
	cfg := loadConfig(t, root)

	result, err := New(cfg, logging.NewDiscard()).Assemble(context.Background(), "js")
	require.NoError(t, err)
	assert.Equal(t, []string{"DataDashboard.js"}, result.Outputs)
	assert.Equal(t, StageBuild, result.Stage)
}
