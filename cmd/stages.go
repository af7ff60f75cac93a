package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/assetstage/internal/config"
	builderrors "github.com/conneroisu/assetstage/internal/errors"
	"github.com/conneroisu/assetstage/internal/logging"
	"github.com/conneroisu/assetstage/internal/pipeline"
	"github.com/conneroisu/assetstage/internal/report"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Assemble sources and library bundles into the staging folder",
	Long: `Run stage 1: every asset class is resolved from its globs, transformed and
written to build/step1-staging, together with the three library bundles.

Missing library files and globs that match nothing only produce warnings,
unless --strict is given.

Examples:
  assetstage build            # Assemble everything
  assetstage build --strict   # Fail on configuration paths that match nothing`,
	RunE: runBuild,
}

var minifyCmd = &cobra.Command{
	Use:   "minify",
	Short: "Minify the staging folder into the minified folder",
	Long: `Run stage 2 against the current staging folder. Styles and scripts are
minified with their banners, library scripts are minified per library, and
graphics and markup are copied unchanged.`,
	RunE: runMinify,
}

var revisionCmd = &cobra.Command{
	Use:   "revision",
	Short: "Content-hash asset names into the production folder",
	Long: `Run stage 3 against the current minified folder. Every asset except markup
gets its content digest inserted into its name and every reference to it is
rewritten.

Examples:
  assetstage revision                          # Revision into build/step3-production
  assetstage revision --manifest rev.json      # Also write the reference map`,
	RunE: runRevision,
}

var releaseCmd = &cobra.Command{
	Use:     "release",
	Aliases: []string{"r"},
	Short:   "Run build, minify and revision in order",
	Long: `Run all three stages. A stage only starts once the previous one finished
without errors; after a failure the remaining stages are reported as skipped.`,
	RunE: runRelease,
}

var (
	buildStrict      bool
	revisionManifest string
	reportGzip       bool
)

func init() {
	rootCmd.AddCommand(buildCmd, minifyCmd, revisionCmd, releaseCmd)

	buildCmd.Flags().BoolVar(&buildStrict, "strict", false, "Fail when configured paths match no files")
	revisionCmd.Flags().StringVar(&revisionManifest, "manifest", "", "Write the reference map as JSON to this file")
	releaseCmd.Flags().StringVar(&revisionManifest, "manifest", "", "Write the reference map as JSON to this file")
	for _, c := range []*cobra.Command{buildCmd, minifyCmd, revisionCmd, releaseCmd} {
		c.Flags().BoolVar(&reportGzip, "gzip", false, "Include gzipped sizes in the report")
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if err := checkPaths(cmd.Context(), cfg, logger, buildStrict); err != nil {
		return err
	}
	_, err = newPipeline(cmd, cfg, logger).Build(cmd.Context())
	return err
}

func runMinify(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	_, err = newPipeline(cmd, cfg, logger).Minify(cmd.Context())
	return err
}

func runRevision(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	result, err := newPipeline(cmd, cfg, logger).Revision(cmd.Context())
	if err != nil {
		return err
	}
	return writeManifest(cmd, result)
}

func runRelease(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if err := checkPaths(cmd.Context(), cfg, logger, false); err != nil {
		return err
	}
	results, err := newPipeline(cmd, cfg, logger).Release(cmd.Context())
	if err != nil {
		return err
	}
	return writeManifest(cmd, results[len(results)-1])
}

// checkPaths logs configured paths that match nothing, and fails on them
// when strict.
func checkPaths(ctx context.Context, cfg *config.Config, logger logging.Logger, strict bool) error {
	warnings := config.CheckPaths(cfg)
	for _, w := range warnings {
		logger.Warn(ctx, w, "Configured path matches nothing", "class", w.Class)
	}
	if strict && len(warnings) > 0 {
		errs := make([]error, len(warnings))
		for i, w := range warnings {
			errs[i] = w
		}
		return fmt.Errorf("strict mode: %d configured path(s) match nothing: %w", len(warnings), errors.Join(errs...))
	}
	return nil
}

func writeManifest(cmd *cobra.Command, result pipeline.StageResult) error {
	if revisionManifest == "" {
		return nil
	}
	if err := result.References.WriteManifest(revisionManifest); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reference map written to %s\n", revisionManifest)
	return nil
}

// newPipeline returns a pipeline that prints a size report after every
// successful stage and a status line after every failed or skipped one.
func newPipeline(cmd *cobra.Command, cfg *config.Config, logger logging.Logger, opts ...pipeline.Option) *pipeline.Pipeline {
	p := pipeline.New(cfg, logger, opts...)
	p.AddCallback(stageReporter(cmd.OutOrStdout(), cfg, &report.Options{
		NoColor: viper.GetBool("no-color"),
		Gzip:    reportGzip,
	}))
	return p
}

func stageReporter(w io.Writer, cfg *config.Config, opts *report.Options) pipeline.Callback {
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)
	if opts.NoColor {
		red.DisableColor()
		yellow.DisableColor()
	}

	return func(result pipeline.StageResult) {
		switch {
		case errors.Is(result.Err, builderrors.ErrStageSkipped):
			yellow.Fprintf(w, "%s: skipped\n", result.Stage)
			return
		case result.Err != nil:
			red.Fprintf(w, "%s: failed\n", result.Stage)
			return
		}

		entries, err := report.Measure(result.Dir, result.Outputs, opts.Gzip)
		if err != nil {
			yellow.Fprintf(w, "%s: size report unavailable: %v\n", result.Stage, err)
			return
		}
		title := fmt.Sprintf("%s -> %s (%s)", result.Stage, relToRoot(cfg, result.Dir), result.Duration.Round(time.Millisecond))
		report.Render(w, title, entries, opts)
		if n := len(result.Warnings); n > 0 {
			yellow.Fprintf(w, "  %d warning(s)\n", n)
		}
	}
}

func relToRoot(cfg *config.Config, dir string) string {
	if rel, err := filepath.Rel(cfg.Root, dir); err == nil {
		return filepath.ToSlash(rel)
	}
	return dir
}
