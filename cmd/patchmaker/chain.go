package main

import (
	"encoding/json"
	"fmt"
	"os"

	digest "github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"

	"github.com/packagepatch/patchmaker/filespec"
	"github.com/packagepatch/patchmaker/internal/dcontext"
	"github.com/packagepatch/patchmaker/patchmaker"
)

var (
	chainPackage string
	chainHave    string
)

// ChainCmd is a one-shot CLI equivalent of the query server's /v1/chain
// route, useful for operators scripting a download without standing up
// the HTTP server.
var ChainCmd = &cobra.Command{
	Use:   "chain <config>",
	Short: "`chain` prints the patch chain from a held version to current",
	Long:  "`chain` resolves the shortest patch chain from --have to the package's current, the same query the HTTP server's /v1/chain route answers.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := dcontext.Background()

		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		ctx, err = configureLogging(ctx, config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
			os.Exit(1)
		}

		chain, err := patchmaker.QueryChain(config.InstallDir, chainPackage, filespec.FileRef{Hash: digest.Digest(chainHave)})
		if err != nil {
			dcontext.GetLogger(ctx).Fatalf("chain query failed: %v", err)
		}
		if chain == nil {
			fmt.Fprintln(os.Stderr, "no chain found for the requested version")
			os.Exit(1)
		}

		// Edges carry back-pointers into the shared node table (VersionNode
		// <-> PatchEdge is a cycle), so flatten to the same per-step shape the
		// query server uses (printed as a bare array, not wrapped in a
		// "steps" object) rather than marshaling the graph directly.
		type step struct {
			Filename   string `json:"filename"`
			SourceHash string `json:"source_hash"`
			TargetHash string `json:"target_hash"`
		}
		steps := make([]step, 0, len(chain))
		for _, e := range chain {
			steps = append(steps, step{
				Filename:   e.FileRef.Filename,
				SourceHash: string(e.SourceRef.Hash),
				TargetHash: string(e.TargetRef.Hash),
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(steps); err != nil {
			dcontext.GetLogger(ctx).Fatalf("encoding chain: %v", err)
		}
	},
}
