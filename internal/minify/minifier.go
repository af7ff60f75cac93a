// Package minify implements stage 2. It reads only the staging directory
// and writes the minified directory: application and library bundles are
// minified behind their banners, everything else is copied byte for byte.
package minify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/assetstage/internal/config"
	builderrors "github.com/conneroisu/assetstage/internal/errors"
	"github.com/conneroisu/assetstage/internal/fsutil"
	"github.com/conneroisu/assetstage/internal/library"
	"github.com/conneroisu/assetstage/internal/logging"
	"github.com/conneroisu/assetstage/internal/transform"
)

// ArtifactResult is the outcome of one stage-2 task.
type ArtifactResult struct {
	Name     string
	Outputs  []string
	Duration time.Duration
	Err      error
}

// Result is the outcome of a stage-2 run.
type Result struct {
	Artifacts []ArtifactResult
}

// Outputs returns every path written, relative to the minified directory.
func (r *Result) Outputs() []string {
	var out []string
	for _, a := range r.Artifacts {
		out = append(out, a.Outputs...)
	}
	sort.Strings(out)
	return out
}

// Minifier runs stage 2.
type Minifier struct {
	config   *config.Config
	registry *transform.Registry
	logger   logging.Logger
}

// New creates a minifier.
func New(cfg *config.Config, registry *transform.Registry, logger logging.Logger) *Minifier {
	return &Minifier{
		config:   cfg,
		registry: registry,
		logger:   logger.WithComponent("minify"),
	}
}

type task struct {
	name string
	run  func(ctx context.Context) ([]string, error)
}

// Run cleans the minified directory and processes every artifact and copy
// glob concurrently. A failing task does not stop its siblings.
func (m *Minifier) Run(ctx context.Context) (*Result, error) {
	staging := m.config.StagingDir()
	if _, err := os.Stat(staging); err != nil {
		return nil, builderrors.NewIOError("read staging", staging, err)
	}
	if err := fsutil.CleanDir(m.config.MinifiedDir()); err != nil {
		return nil, builderrors.NewIOError("clean", m.config.MinifiedDir(), err)
	}

	var tasks []task
	for _, artifact := range m.config.Minify.Artifacts {
		tasks = append(tasks, task{name: artifact.Name, run: func(ctx context.Context) ([]string, error) {
			out, err := m.artifact(ctx, artifact)
			if err != nil {
				return nil, err
			}
			return []string{out}, nil
		}})
	}
	for _, pattern := range m.config.Minify.Copy {
		tasks = append(tasks, task{name: pattern, run: func(ctx context.Context) ([]string, error) {
			return m.copyGlob(ctx, pattern)
		}})
	}

	results := make([]ArtifactResult, len(tasks))
	var g errgroup.Group
	for i, t := range tasks {
		g.Go(func() error {
			start := time.Now()
			outputs, err := t.run(ctx)
			results[i] = ArtifactResult{Name: t.name, Outputs: outputs, Duration: time.Since(start), Err: err}
			if err != nil {
				m.logger.Error(ctx, err, "Minify task failed", "artifact", t.name)
			}
			return nil
		})
	}
	_ = g.Wait()

	collector := builderrors.NewErrorCollector()
	for _, r := range results {
		collector.AddError(r.Err)
	}
	return &Result{Artifacts: results}, collector.Err()
}

func (m *Minifier) artifact(ctx context.Context, artifact config.MinifyArtifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src := filepath.Join(m.config.StagingDir(), filepath.FromSlash(artifact.Name))
	data, err := os.ReadFile(src)
	if err != nil {
		return "", builderrors.NewIOError("read staging", artifact.Name, err)
	}

	var body []byte
	switch artifact.Mode {
	case config.MinifyModeCopy:
		body = data
	case config.MinifyModeSplit:
		body, err = m.splitMinify(ctx, artifact, data)
	default:
		body, err = m.minify(ctx, artifact, artifact.Name, data)
	}
	if err != nil {
		return "", err
	}

	out := make([]byte, 0, len(artifact.Header)+len(body)+len(artifact.Footer))
	out = append(out, artifact.Header...)
	out = append(out, body...)
	out = append(out, artifact.Footer...)

	dest := filepath.Join(m.config.MinifiedDir(), filepath.FromSlash(artifact.Name))
	if err := fsutil.WriteFile(dest, out); err != nil {
		return "", builderrors.NewIOError("write minified", artifact.Name, err)
	}
	m.logger.Info(ctx, "Artifact minified",
		"artifact", artifact.Name,
		"mode", string(artifact.Mode),
		"bytes_in", len(data),
		"bytes_out", len(out))
	return artifact.Name, nil
}

func (m *Minifier) minify(ctx context.Context, artifact config.MinifyArtifact, file string, data []byte) ([]byte, error) {
	chain, err := m.registry.Chain(chainFor(artifact.Kind)...)
	if err != nil {
		return nil, err
	}
	out, err := chain(ctx, transform.File{
		Rel:     file,
		Class:   artifact.Name,
		Content: data,
		Project: m.config.Project,
	})
	if err != nil {
		return nil, builderrors.NewTransformError(artifact.Name, file, err)
	}
	return out, nil
}

// splitMinify minifies each library of a vendor bundle on its own and
// re-emits it behind a fresh attribution header.
func (m *Minifier) splitMinify(ctx context.Context, artifact config.MinifyArtifact, data []byte) ([]byte, error) {
	bundle, ok := bundleFor(artifact.Name)
	if !ok {
		return nil, fmt.Errorf("artifact %s is not a library bundle", artifact.Name)
	}

	var parts []string
	for _, section := range library.Split(data, bundle) {
		out, err := m.minify(ctx, artifact, section.Name, section.Content)
		if err != nil {
			return nil, err
		}
		parts = append(parts, "\n"+fmt.Sprintf(bundle.Header, section.Name)+"\n"+string(out))
	}
	return []byte(strings.Join(parts, "\n")), nil
}

func bundleFor(name string) (library.Bundle, bool) {
	for _, b := range library.Bundles(config.LibrariesConfig{}) {
		if b.Name == name {
			return b, true
		}
	}
	return library.Bundle{}, false
}

func chainFor(kind config.Kind) []string {
	switch kind {
	case config.KindStyle:
		return []string{"style.minify"}
	case config.KindScript:
		return []string{"script.minify"}
	}
	return nil
}

// copyGlob copies the staging files matching pattern unchanged.
func (m *Minifier) copyGlob(ctx context.Context, pattern string) ([]string, error) {
	staging := m.config.StagingDir()
	matches, err := doublestar.Glob(os.DirFS(staging), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}

	var copied []string
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		if strings.HasPrefix(filepath.Base(rel), ".") {
			continue
		}
		src := filepath.Join(staging, filepath.FromSlash(rel))
		dest := filepath.Join(m.config.MinifiedDir(), filepath.FromSlash(rel))
		if err := fsutil.CopyFile(src, dest); err != nil {
			return copied, builderrors.NewIOError("copy", rel, err)
		}
		copied = append(copied, rel)
	}
	m.logger.Debug(ctx, "Copied verbatim", "pattern", pattern, "files", len(copied))
	return copied, nil
}
