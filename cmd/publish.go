package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/assetstage/internal/publish"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Copy the production folder into the deploy folder",
	Long: `Copy build/step3-production into the deploy folder (default "docs") and
write a CNAME file binding it to the homepage host.

An existing non-empty deploy folder is only replaced with --force.

Examples:
  assetstage release && assetstage publish
  assetstage publish --force`,
	RunE: runPublish,
}

var publishForce bool

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().BoolVarP(&publishForce, "force", "f", false, "Replace a non-empty deploy folder")
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	files, err := publish.Publish(cmd.Context(), cfg, publish.Options{Force: publishForce}, logger)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	if viper.GetBool("no-color") {
		green.DisableColor()
	}
	green.Fprintf(cmd.OutOrStdout(), "Published %d files to %s", len(files), cfg.Publish.Dir)
	if cfg.Publish.CNAME != "" {
		fmt.Fprintf(cmd.OutOrStdout(), " (CNAME %s)", cfg.Publish.CNAME)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
