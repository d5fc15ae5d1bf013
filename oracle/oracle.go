// Package oracle defines the external collaborators the patch graph core
// treats as opaque: the binary-delta builder/applier and the stream
// compressor used for ".pz" artifacts. Both are out of scope for the core
// itself (spec.md §1), so this package only fixes their contract plus a
// reference implementation grounded on the standard library, in the same
// spirit as the teacher's storagedriver.StorageDriver interface: a small
// interface that concrete backends satisfy, with one reference backend
// shipped alongside it.
package oracle

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Builder produces a binary delta patch that transforms origFile into
// newFile, writing the patch to patchOut.
type Builder interface {
	Build(ctx context.Context, origFile, newFile, patchOut string) error
}

// Applier reconstructs newOut by applying patchFile to origFile.
type Applier interface {
	Apply(ctx context.Context, patchFile, origFile, newOut string) error
}

// Compressor wraps and unwraps the ".pz" framing used for published
// archives and patch artifacts.
type Compressor interface {
	Compress(ctx context.Context, in, out string, level int) error
	Decompress(ctx context.Context, in, out string) error
}

// BestCompression is the level buildPatch uses when wrapping a freshly
// authored patch artifact (spec.md §4.4 step 3: "compress ... at maximum
// level").
const BestCompression = zlib.BestCompression

// ZlibCompressor is the reference Compressor, built directly on
// compress/zlib. No example repo in this pack ships a dedicated archive
// compression library (the closest, docker/go-events, is unrelated), so
// this concern is grounded on the standard library by necessity; see
// DESIGN.md for the corresponding justification entry.
type ZlibCompressor struct{}

func (ZlibCompressor) Compress(_ context.Context, in, out string, level int) error {
	src, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("oracle: compress: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("oracle: compress: %w", err)
	}
	defer dst.Close()

	w, err := zlib.NewWriterLevel(dst, level)
	if err != nil {
		return fmt.Errorf("oracle: compress: %w", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return fmt.Errorf("oracle: compress: %w", err)
	}
	return w.Close()
}

func (ZlibCompressor) Decompress(_ context.Context, in, out string) error {
	src, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("oracle: decompress: %w", err)
	}
	defer src.Close()

	r, err := zlib.NewReader(src)
	if err != nil {
		return fmt.Errorf("oracle: decompress: %w", err)
	}
	defer r.Close()

	dst, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("oracle: decompress: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		return fmt.Errorf("oracle: decompress: %w", err)
	}
	return nil
}

// ExecDelta is a Builder and Applier that shells out to an external
// bsdiff/bspatch-compatible pair of binaries, the natural choice for the
// "opaque oracle" described in spec.md §1: the core never needs to know
// how the delta is computed, only that build/apply round-trip.
type ExecDelta struct {
	// BuildCommand/ApplyCommand default to "bsdiff"/"bspatch" if empty.
	BuildCommand string
	ApplyCommand string
}

func (e ExecDelta) buildCmd() string {
	if e.BuildCommand != "" {
		return e.BuildCommand
	}
	return "bsdiff"
}

func (e ExecDelta) applyCmd() string {
	if e.ApplyCommand != "" {
		return e.ApplyCommand
	}
	return "bspatch"
}

func (e ExecDelta) Build(ctx context.Context, origFile, newFile, patchOut string) error {
	cmd := exec.CommandContext(ctx, e.buildCmd(), origFile, newFile, patchOut)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("oracle: delta build: %w: %s", err, stderr.String())
	}
	return nil
}

func (e ExecDelta) Apply(ctx context.Context, patchFile, origFile, newOut string) error {
	cmd := exec.CommandContext(ctx, e.applyCmd(), origFile, newOut, patchFile)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("oracle: delta apply: %w: %s", err, stderr.String())
	}
	return nil
}

// ExecCompressor is a Compressor that shells out to an external
// command accepting "<cmd> -<level> <in> <out>" for compress and
// "<cmd> -d <in> <out>" for decompress, for operators who configure
// Configuration.Compression.Command instead of the built-in zlib
// compressor.
type ExecCompressor struct {
	Command string
}

func (e ExecCompressor) Compress(ctx context.Context, in, out string, level int) error {
	cmd := exec.CommandContext(ctx, e.Command, fmt.Sprintf("-%d", level), in, out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("oracle: exec compress: %w: %s", err, stderr.String())
	}
	return nil
}

func (e ExecCompressor) Decompress(ctx context.Context, in, out string) error {
	cmd := exec.CommandContext(ctx, e.Command, "-d", in, out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("oracle: exec decompress: %w: %s", err, stderr.String())
	}
	return nil
}
