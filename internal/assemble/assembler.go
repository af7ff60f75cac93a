// Package assemble implements stage 1: every asset class is resolved from
// its globs, ordered, transformed file by file, and written into the
// staging directory either as one concatenated bundle or file by file.
package assemble

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/assetstage/internal/config"
	builderrors "github.com/conneroisu/assetstage/internal/errors"
	"github.com/conneroisu/assetstage/internal/fsutil"
	"github.com/conneroisu/assetstage/internal/logging"
	"github.com/conneroisu/assetstage/internal/transform"
)

// ClassResult describes the outcome of one asset class.
type ClassResult struct {
	Class string
	// Outputs are the paths written, relative to staging.
	Outputs []string
	// Generated are source-tree files written by fragment classes,
	// relative to the project root.
	Generated []string

	Sources  int
	Warnings []builderrors.BuildError
	Duration time.Duration
	Err      error
}

// Result is the outcome of one assembler run.
type Result struct {
	Classes []ClassResult
}

// Outputs returns every staging path written, in lexical order.
func (r *Result) Outputs() []string {
	var out []string
	for _, c := range r.Classes {
		out = append(out, c.Outputs...)
	}
	sort.Strings(out)
	return out
}

// Warnings returns all validation warnings of the run.
func (r *Result) Warnings() []builderrors.BuildError {
	var out []builderrors.BuildError
	for _, c := range r.Classes {
		out = append(out, c.Warnings...)
	}
	return out
}

// Assembler runs stage 1.
type Assembler struct {
	config   *config.Config
	registry *transform.Registry
	logger   logging.Logger
}

// New creates an assembler.
func New(cfg *config.Config, registry *transform.Registry, logger logging.Logger) *Assembler {
	return &Assembler{
		config:   cfg,
		registry: registry,
		logger:   logger.WithComponent("assemble"),
	}
}

// Run assembles the named classes, or every configured class when none is
// named. Classes run concurrently and fail independently, except that
// markup classes wait for fragment classes, and are skipped when one of
// them failed, since they include the generated fragment lists.
func (a *Assembler) Run(ctx context.Context, classNames ...string) (*Result, error) {
	classes, err := a.selectClasses(classNames)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(a.config.Root); err != nil {
		return nil, builderrors.NewIOError("source root", a.config.Root, err)
	}

	results := make([]ClassResult, len(classes))
	fragmentsDone := make(chan struct{})
	var fragments sync.WaitGroup
	var fragmentFailed sync.Once
	var failedFragment string

	for _, class := range classes {
		if class.Kind == config.KindFragment {
			fragments.Add(1)
		}
	}

	var g errgroup.Group
	for i, class := range classes {
		g.Go(func() error {
			switch class.Kind {
			case config.KindFragment:
				defer fragments.Done()
				results[i] = a.Class(ctx, class)
				if results[i].Err != nil {
					fragmentFailed.Do(func() { failedFragment = class.Name })
				}
			case config.KindMarkup:
				<-fragmentsDone
				if failedFragment != "" {
					results[i] = ClassResult{
						Class: class.Name,
						Err: &builderrors.BuildError{
							Kind:     builderrors.KindStage,
							Class:    class.Name,
							Message:  fmt.Sprintf("skipped: fragment class %q failed", failedFragment),
							Severity: builderrors.ErrorSeverityError,
							Err:      builderrors.ErrStageSkipped,
						},
					}
					return nil
				}
				results[i] = a.Class(ctx, class)
			default:
				results[i] = a.Class(ctx, class)
			}
			return nil
		})
	}
	go func() {
		fragments.Wait()
		close(fragmentsDone)
	}()
	_ = g.Wait()

	collector := builderrors.NewErrorCollector()
	for _, r := range results {
		collector.AddError(r.Err)
	}
	return &Result{Classes: results}, collector.Err()
}

func (a *Assembler) selectClasses(names []string) ([]config.AssetClass, error) {
	if len(names) == 0 {
		return a.config.Sources, nil
	}
	classes := make([]config.AssetClass, 0, len(names))
	for _, name := range names {
		class, ok := a.config.Class(name)
		if !ok {
			return nil, fmt.Errorf("unknown asset class %q", name)
		}
		classes = append(classes, class)
	}
	return classes, nil
}

// Class assembles a single class.
func (a *Assembler) Class(ctx context.Context, class config.AssetClass) ClassResult {
	logger := a.logger.With("class", class.Name)
	perf := logging.StartOperation(logger, "assemble "+class.Name)
	result := ClassResult{Class: class.Name}

	err := a.assemble(ctx, class, logger, &result)
	result.Duration = perf.Elapsed()
	result.Err = err
	if err != nil {
		perf.EndWithError(ctx, err)
		return result
	}
	perf.End(ctx)
	return result
}

func (a *Assembler) assemble(ctx context.Context, class config.AssetClass, logger logging.Logger, result *ClassResult) error {
	sources, err := ResolveDir(a.config.Root, class)
	if err != nil {
		return &builderrors.BuildError{
			Kind:     builderrors.KindConfig,
			Class:    class.Name,
			Message:  "resolving globs",
			Severity: builderrors.ErrorSeverityError,
			Err:      err,
		}
	}
	sources = Order(sources, class.Order)
	result.Sources = len(sources)
	if len(sources) == 0 {
		logger.Debug(ctx, "No files matched", "globs", class.Globs)
	}

	if class.Kind == config.KindFragment {
		return a.writeIncludes(ctx, class, sources, result)
	}

	chain, err := a.registry.Chain(class.Transforms...)
	if err != nil {
		return &builderrors.BuildError{
			Kind:     builderrors.KindConfig,
			Class:    class.Name,
			Message:  "building transform chain",
			Severity: builderrors.ErrorSeverityError,
			Err:      err,
		}
	}

	var warnMu sync.Mutex
	warn := func(w *builderrors.BuildError) {
		w.Class = class.Name
		w.Stage = "assemble"
		logger.Warn(ctx, w, "Validation warning", "file", w.File)
		warnMu.Lock()
		result.Warnings = append(result.Warnings, *w)
		warnMu.Unlock()
	}

	outputs := make([][]byte, len(sources))
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := a.transformFile(ctx, chain, class, src, warn)
		if err != nil {
			return err
		}
		outputs[i] = out
	}

	if class.Kind.Concatenates() {
		var joined []byte
		for i, out := range outputs {
			if i > 0 {
				joined = append(joined, '\n')
			}
			joined = append(joined, out...)
		}
		return a.writeStaging(class.Output, joined, result)
	}

	for i, src := range sources {
		if err := a.writeStaging(path.Join(class.OutDir, src.BaseRel), outputs[i], result); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) transformFile(ctx context.Context, chain transform.Func, class config.AssetClass, src Source, warn func(*builderrors.BuildError)) ([]byte, error) {
	abs := a.config.ResolvePath(src.Rel)
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, builderrors.NewIOError("read source", src.Rel, err)
	}

	out, err := chain(ctx, transform.File{
		Path:    abs,
		Rel:     src.Rel,
		Class:   class.Name,
		Content: content,
		Project: a.config.Project,
		Warn:    warn,
	})
	if err != nil {
		return nil, builderrors.NewTransformError(class.Name, src.Rel, err)
	}
	return out, nil
}

// writeIncludes generates the include list of a fragment class: one
// include directive per fragment, directives rather than content, with a
// leading and trailing newline.
func (a *Assembler) writeIncludes(ctx context.Context, class config.AssetClass, sources []Source, result *ClassResult) error {
	var b strings.Builder
	b.WriteByte('\n')
	for i, src := range sources {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(transform.IncludeDirective(path.Join(class.IncludePrefix, src.BaseRel)))
	}
	b.WriteByte('\n')

	rel := path.Join(class.IncludeDir, class.Output)
	dest := a.config.ResolvePath(rel)
	if err := fsutil.WriteFile(dest, []byte(b.String())); err != nil {
		return builderrors.NewIOError("write include list", rel, err)
	}
	result.Generated = append(result.Generated, rel)
	a.logger.Debug(ctx, "Include list generated", "class", class.Name, "path", rel, "fragments", len(sources))
	return nil
}

func (a *Assembler) writeStaging(rel string, data []byte, result *ClassResult) error {
	dest := filepath.Join(a.config.StagingDir(), filepath.FromSlash(rel))
	if err := fsutil.WriteFile(dest, data); err != nil {
		return builderrors.NewIOError("write staging", rel, err)
	}
	result.Outputs = append(result.Outputs, rel)
	return a.touchMarker()
}

// touchMarker rewrites the staging marker so a single watcher on the
// marker observes every stage-1 write.
func (a *Assembler) touchMarker() error {
	if err := fsutil.TouchMarker(a.config.StagingDir(), config.MarkerFile); err != nil {
		return builderrors.NewIOError("write marker", config.MarkerFile, err)
	}
	return nil
}
