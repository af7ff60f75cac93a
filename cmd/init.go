package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/assetstage/internal/config"
)

// DefaultConfigFile is the file written by init and read when no --config
// is given.
const DefaultConfigFile = ".assetstage.yml"

var initCmd = &cobra.Command{
	Use:     "init",
	Aliases: []string{"i"},
	Short:   "Write a default configuration file",
	Long: `Write .assetstage.yml with the conventional project layout: sources under
src/web, libraries under node_modules, project metadata from package.json.

Placeholders such as {name} and {homepage} are filled from package.json when
the configuration is loaded.`,
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := DefaultConfigFile
	if len(args) > 0 {
		path = args[0]
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("encoding default configuration: %w", err)
	}
	header := "# assetstage configuration\n# Placeholders: {name} {version} {homepage} {license} {banner}\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return nil
}
