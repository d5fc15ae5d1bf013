// Package main is the patchmaker binary's entry point: a spf13/cobra
// command tree with build/chain/serve subcommands, mirroring
// registry/root.go's RootCmd/ServeCmd shape but scoped to the patch-graph
// domain.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/packagepatch/patchmaker/configuration"
	"github.com/packagepatch/patchmaker/version"
)

var showVersion bool

func init() {
	RootCmd.AddCommand(BuildCmd)
	RootCmd.AddCommand(ChainCmd)
	RootCmd.AddCommand(ServeCmd)
	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")

	BuildCmd.Flags().StringSliceVar(&buildOnly, "package", nil, "only process this package name (repeatable); default processes every package")

	ChainCmd.Flags().StringVar(&chainPackage, "package", "", "package descriptor path, relative to installdir")
	ChainCmd.Flags().StringVar(&chainHave, "have", "", "digest of the archive the caller already holds")
	_ = ChainCmd.MarkFlagRequired("package")
	_ = ChainCmd.MarkFlagRequired("have")
}

// RootCmd is the main command for the "patchmaker" binary.
var RootCmd = &cobra.Command{
	Use:   "patchmaker",
	Short: "`patchmaker`",
	Long:  "`patchmaker` authors and serves package patch chains.",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			version.PrintVersion()
			return
		}
		// nolint:errcheck
		cmd.Usage()
	},
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfiguration loads the configuration document named by args[0]
// (or the PATCHMAKER_CONFIGURATION_PATH environment variable), mirroring
// registry/registry.go's resolveConfiguration.
func resolveConfiguration(args []string) (*configuration.Configuration, error) {
	var configurationPath string

	if len(args) > 0 {
		configurationPath = args[0]
	} else if os.Getenv("PATCHMAKER_CONFIGURATION_PATH") != "" {
		configurationPath = os.Getenv("PATCHMAKER_CONFIGURATION_PATH")
	}

	if configurationPath == "" {
		return nil, fmt.Errorf("configuration path unspecified")
	}

	fp, err := os.Open(configurationPath)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	config, err := configuration.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", configurationPath, err)
	}
	return config, nil
}
