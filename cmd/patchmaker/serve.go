package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/packagepatch/patchmaker/internal/dcontext"
	"github.com/packagepatch/patchmaker/server"
	"github.com/packagepatch/patchmaker/version"
)

// ServeCmd is a cobra command running the chain-query HTTP server,
// mirroring registry/registry.go's ServeCmd.
var ServeCmd = &cobra.Command{
	Use:   "serve <config>",
	Short: "`serve` answers patch chain queries over HTTP",
	Long:  "`serve` runs the chain-query HTTP server against the configured installdir.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := dcontext.WithVersion(dcontext.Background(), version.Version())

		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		ctx, srv, err := server.New(ctx, config)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		if err := srv.ListenAndServe(); err != nil {
			dcontext.GetLogger(ctx).Fatalln(err)
		}
	},
}
