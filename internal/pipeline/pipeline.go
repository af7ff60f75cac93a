// Package pipeline sequences the three build stages. Each stage only starts
// after the previous one has fully finished without errors, and only reads
// the directory its predecessor wrote.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/assetstage/internal/assemble"
	"github.com/conneroisu/assetstage/internal/config"
	builderrors "github.com/conneroisu/assetstage/internal/errors"
	"github.com/conneroisu/assetstage/internal/library"
	"github.com/conneroisu/assetstage/internal/logging"
	"github.com/conneroisu/assetstage/internal/metrics"
	"github.com/conneroisu/assetstage/internal/minify"
	"github.com/conneroisu/assetstage/internal/revision"
	"github.com/conneroisu/assetstage/internal/transform"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageBuild    Stage = "build"
	StageMinify   Stage = "minify"
	StageRevision Stage = "revision"
)

// StageResult is the outcome of one stage run.
type StageResult struct {
	Stage Stage
	// Dir is the directory the stage wrote.
	Dir      string
	Outputs  []string
	Warnings []builderrors.BuildError
	Duration time.Duration
	Err      error

	// References is set by the revision stage.
	References revision.ReferenceMap
}

// Callback is called when a stage completes
type Callback func(result StageResult)

// Pipeline runs the stages against one immutable configuration.
type Pipeline struct {
	config    *config.Config
	logger    logging.Logger
	recorder  metrics.Recorder
	callbacks []Callback

	libraries  *library.Bundler
	assembler  *assemble.Assembler
	minifier   *minify.Minifier
	revisioner *revision.Revisioner
}

// Option configures a Pipeline.
type Option func(*options)

type options struct {
	registry *transform.Registry
	recorder metrics.Recorder
}

// WithRegistry replaces the default transform registry.
func WithRegistry(registry *transform.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithRecorder reports stage metrics to recorder.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(o *options) { o.recorder = recorder }
}

// New creates a pipeline for cfg.
func New(cfg *config.Config, logger logging.Logger, opts ...Option) *Pipeline {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = transform.Default()
	}
	if o.recorder == nil {
		o.recorder = metrics.NoopRecorder{}
	}

	return &Pipeline{
		config:     cfg,
		logger:     logger.WithComponent("pipeline"),
		recorder:   o.recorder,
		libraries:  library.NewBundler(cfg, logger),
		assembler:  assemble.New(cfg, o.registry, logger),
		minifier:   minify.New(cfg, o.registry, logger),
		revisioner: revision.New(cfg, logger),
	}
}

// AddCallback registers a callback for completed stages. Callbacks must be
// registered before the pipeline runs.
func (p *Pipeline) AddCallback(cb Callback) {
	p.callbacks = append(p.callbacks, cb)
}

// Build runs stage 1: the library bundles and every asset class, joined
// by a single barrier.
func (p *Pipeline) Build(ctx context.Context) (StageResult, error) {
	start := time.Now()
	result := StageResult{Stage: StageBuild, Dir: p.config.StagingDir()}

	var (
		libs    []string
		libErr  error
		asm     *assemble.Result
		asmErr  error
		barrier errgroup.Group
	)
	barrier.Go(func() error {
		libs, libErr = p.libraries.Run(ctx)
		return nil
	})
	barrier.Go(func() error {
		asm, asmErr = p.assembler.Run(ctx)
		return nil
	})
	_ = barrier.Wait()

	result.Outputs = libs
	if asm != nil {
		result.Outputs = append(result.Outputs, asm.Outputs()...)
		result.Warnings = asm.Warnings()
	}
	sort.Strings(result.Outputs)
	return p.finish(ctx, result, start, errors.Join(libErr, asmErr))
}

// Assemble rebuilds the named asset classes only. The dev loop uses it to
// refresh staging incrementally.
func (p *Pipeline) Assemble(ctx context.Context, classes ...string) (StageResult, error) {
	start := time.Now()
	result := StageResult{Stage: StageBuild, Dir: p.config.StagingDir()}

	asm, err := p.assembler.Run(ctx, classes...)
	if asm != nil {
		result.Outputs = asm.Outputs()
		result.Warnings = asm.Warnings()
	}
	return p.finish(ctx, result, start, err)
}

// Minify runs stage 2 against the current staging directory.
func (p *Pipeline) Minify(ctx context.Context) (StageResult, error) {
	start := time.Now()
	result := StageResult{Stage: StageMinify, Dir: p.config.MinifiedDir()}

	res, err := p.minifier.Run(ctx)
	if res != nil {
		result.Outputs = res.Outputs()
	}
	return p.finish(ctx, result, start, err)
}

// Revision runs stage 3 against the current minified directory.
func (p *Pipeline) Revision(ctx context.Context) (StageResult, error) {
	start := time.Now()
	result := StageResult{Stage: StageRevision, Dir: p.config.ProductionDir()}

	res, err := p.revisioner.Run(ctx)
	if res != nil {
		result.Outputs = res.Outputs()
		result.References = res.References
	}
	return p.finish(ctx, result, start, err)
}

// Release runs all three stages in order. A failed stage stops the
// sequence; every later stage is reported as skipped.
func (p *Pipeline) Release(ctx context.Context) ([]StageResult, error) {
	steps := []struct {
		stage Stage
		run   func(context.Context) (StageResult, error)
	}{
		{StageBuild, p.Build},
		{StageMinify, p.Minify},
		{StageRevision, p.Revision},
	}

	results := make([]StageResult, 0, len(steps))
	var failed error
	for _, step := range steps {
		if failed != nil {
			skipped := StageResult{Stage: step.stage, Err: builderrors.NewStageError(string(step.stage), failed)}
			p.recorder.IncStageResult(string(step.stage), metrics.ResultSkipped)
			for _, cb := range p.callbacks {
				cb(skipped)
			}
			results = append(results, skipped)
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := step.run(ctx)
		results = append(results, result)
		if err != nil {
			failed = err
		}
	}
	return results, failed
}

func (p *Pipeline) finish(ctx context.Context, result StageResult, start time.Time, err error) (StageResult, error) {
	result.Duration = time.Since(start)
	result.Err = err

	stage := string(result.Stage)
	p.recorder.ObserveStageDuration(stage, result.Duration)
	switch {
	case errors.Is(err, context.Canceled):
		p.recorder.IncStageResult(stage, metrics.ResultCanceled)
	default:
		p.recorder.IncStageResult(stage, metrics.ResultOf(err, len(result.Warnings)))
	}
	p.recorder.AddStageOutputBytes(stage, sizeOf(result.Dir, result.Outputs))

	if err != nil {
		p.logger.Error(ctx, err, "Stage failed", "stage", stage, "duration_ms", result.Duration.Milliseconds())
	} else {
		p.logger.Info(ctx, "Stage completed",
			"stage", stage,
			"outputs", len(result.Outputs),
			"warnings", len(result.Warnings),
			"duration_ms", result.Duration.Milliseconds())
	}

	for _, cb := range p.callbacks {
		cb(result)
	}
	return result, err
}

func sizeOf(dir string, files []string) int64 {
	var total int64
	for _, rel := range files {
		if info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel))); err == nil {
			total += info.Size()
		}
	}
	return total
}
