package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	goevents "github.com/docker/go-events"

	"github.com/packagepatch/patchmaker/configuration"
	"github.com/packagepatch/patchmaker/events"
	"github.com/packagepatch/patchmaker/internal/dcontext"
	"github.com/packagepatch/patchmaker/oracle"
	"github.com/packagepatch/patchmaker/patchmaker"
)

var buildOnly []string

// BuildCmd is a cobra command running one patch-authoring session over an
// install tree, wrapping patchmaker.BuildPatches.
var BuildCmd = &cobra.Command{
	Use:   "build <config>",
	Short: "`build` authors new patch edges for an install tree",
	Long:  "`build` discovers the package graph under the configured installdir and authors new patchfiles for every package whose current has diverged from its top.",
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
			dcontext.GetLogger(ctx).Fatalf("error configuring logger: %v", err)
		}

		pm := buildPatchMaker(config)

		var filter map[string]bool
		if len(buildOnly) > 0 {
			filter = make(map[string]bool, len(buildOnly))
			for _, name := range buildOnly {
				filter[name] = true
			}
		}

		touched, err := pm.BuildPatches(ctx, filter)
		if err != nil {
			dcontext.GetLogger(ctx).Fatalf("build failed: %v", err)
		}
		if !touched {
			dcontext.GetLogger(ctx).Warn("build: contents manifest could not be read, nothing was touched")
			os.Exit(1)
		}
	},
}

// buildPatchMaker wires a PatchMaker's oracles and event sink from config,
// shared by the build command (the chain/serve commands use a read-only
// query path that needs none of this).
func buildPatchMaker(config *configuration.Configuration) *patchmaker.PatchMaker {
	var compressor oracle.Compressor = oracle.ZlibCompressor{}
	if config.Compression.Command != "" {
		compressor = oracle.ExecCompressor{Command: config.Compression.Command}
	}

	pm := patchmaker.New(
		config.InstallDir,
		oracle.ExecDelta{BuildCommand: config.Delta.BuildCommand, ApplyCommand: config.Delta.ApplyCommand},
		oracle.ExecDelta{BuildCommand: config.Delta.BuildCommand, ApplyCommand: config.Delta.ApplyCommand},
		compressor,
	)
	pm.CompressionLevel = config.Compression.Level

	if sink := buildEventSink(config); sink != nil {
		pm.Events = events.NewQueue(sink)
	}

	return pm
}

// buildEventSink builds the broadcaster posting session events to every
// configured, non-disabled notification endpoint, falling back to a log
// sink when none are configured (so events are never silently dropped).
func buildEventSink(config *configuration.Configuration) goevents.Sink {
	var sinks []goevents.Sink
	for _, ep := range config.Notifications.Endpoints {
		if ep.Disabled {
			continue
		}
		sinks = append(sinks, events.NewHTTPEndpoint(ep.Name, ep.URL, ep.Headers, ep.Timeout, ep.Threshold, ep.Backoff))
	}
	if len(sinks) == 0 {
		return events.LogSink{}
	}
	return events.NewBroadcaster(sinks...)
}
