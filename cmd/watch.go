package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/assetstage/internal/devloop"
	"github.com/conneroisu/assetstage/internal/metrics"
	"github.com/conneroisu/assetstage/internal/pipeline"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w", "dev"},
	Short:   "Rebuild staging on change and preview it with live reload",
	Long: `Build the staging folder once, then watch the sources. Each change rebuilds
only the asset classes its watch rule names, and every change to the staging
folder reloads connected browsers.

The preview server serves the staging folder and exposes Prometheus metrics
at /metrics.

Examples:
  assetstage watch                 # Watch and serve on localhost:3000
  assetstage watch --port 8080     # Serve on another port
  assetstage watch --no-serve      # Only keep staging current`,
	RunE: runWatch,
}

var watchNoServe bool

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().IntP("port", "p", 3000, "Port to serve on")
	watchCmd.Flags().String("host", "localhost", "Host to bind to")
	watchCmd.Flags().BoolVar(&watchNoServe, "no-serve", false, "Do not start the preview server")
	_ = viper.BindPFlag("server.port", watchCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", watchCmd.Flags().Lookup("host"))
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := metrics.NewPrometheusRecorder(nil)
	p := newPipeline(cmd, cfg, logger, pipeline.WithRecorder(recorder))

	// A failing initial build is reported but does not stop the loop, so
	// the error can be fixed while watching.
	if _, err := p.Build(ctx); err != nil {
		logger.Warn(ctx, err, "Initial build failed, watching anyway")
	}

	hub := devloop.NewHub(recorder)
	loop := devloop.New(cfg, p, hub, recorder, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	if !watchNoServe {
		server := devloop.NewServer(cfg, hub, recorder.Handler(), logger)
		fmt.Fprintf(cmd.OutOrStdout(), "Preview: http://%s/\n", server.Addr())
		g.Go(func() error { return server.Start(gctx) })
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Watching for changes... (Press Ctrl+C to stop)")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
