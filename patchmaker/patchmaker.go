// Package patchmaker implements PatchMaker, the session object that owns
// one pass over an install tree: discovering its package graph, authoring
// new patch edges where a package's top has diverged from its current,
// and rewriting descriptors and the top-level manifest to absorb them
// (spec.md §4.4). It is the top of the dependency stack: coord and
// filespec are its data, graph is its core algorithm, descriptor is its
// persistence layer, oracle is its external collaborator contract.
package patchmaker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/packagepatch/patchmaker/coord"
	"github.com/packagepatch/patchmaker/descriptor"
	"github.com/packagepatch/patchmaker/errs"
	"github.com/packagepatch/patchmaker/events"
	"github.com/packagepatch/patchmaker/filespec"
	"github.com/packagepatch/patchmaker/graph"
	"github.com/packagepatch/patchmaker/internal/dcontext"
	"github.com/packagepatch/patchmaker/metrics"
	"github.com/packagepatch/patchmaker/oracle"
	"github.com/packagepatch/patchmaker/tracing"
)

// PatchMaker is a single-threaded, non-reentrant session over one install
// tree, from construction to Shutdown (spec.md §5).
type PatchMaker struct {
	InstallDir string

	Builder    oracle.Builder
	Applier    oracle.Applier
	Compressor oracle.Compressor

	// CompressionLevel is passed to Compressor.Compress when authoring a
	// new patch artifact. Zero selects oracle.BestCompression.
	CompressionLevel int

	// TmpDir is where materialized archives are written during the
	// session. Defaults to os.TempDir() if empty.
	TmpDir string

	// Events receives one Event per notable action, if set.
	Events *events.Queue

	nodes          map[graph.Key]*graph.VersionNode
	packages       []*descriptor.Package
	patchFilenames map[string]bool
	manifest       *descriptor.Manifest
}

// New returns a PatchMaker ready to process installDir.
func New(installDir string, builder oracle.Builder, applier oracle.Applier, compressor oracle.Compressor) *PatchMaker {
	return &PatchMaker{
		InstallDir:     installDir,
		Builder:        builder,
		Applier:        applier,
		Compressor:     compressor,
		nodes:          make(map[graph.Key]*graph.VersionNode),
		patchFilenames: make(map[string]bool),
	}
}

func (pm *PatchMaker) tmpDir() string {
	if pm.TmpDir != "" {
		return pm.TmpDir
	}
	return os.TempDir()
}

func (pm *PatchMaker) compressionLevel() int {
	if pm.CompressionLevel != 0 {
		return pm.CompressionLevel
	}
	return oracle.BestCompression
}

func (pm *PatchMaker) emit(ctx context.Context, action events.Action, c coord.Coord, detail string) {
	if pm.Events == nil {
		return
	}
	if err := pm.Events.Write(events.Event{Action: action, Coord: c, Detail: detail, Timestamp: time.Now()}); err != nil {
		dcontext.GetLogger(ctx).Warnf("patchmaker: event dropped: %v", err)
	}
}

// intern returns the VersionNode for (c, ref.hash), creating and
// registering a new one on first sight (spec.md I1).
func intern(nodes map[graph.Key]*graph.VersionNode, c coord.Coord, ref filespec.FileRef) *graph.VersionNode {
	key := graph.Key{Coord: c, Hash: ref.Hash}
	if n, ok := nodes[key]; ok {
		return n
	}
	n := &graph.VersionNode{Coord: c, Ref: ref}
	nodes[key] = n
	metrics.NodesInterned.WithValues(c.Name).Inc(1)
	return n
}

// wirePackageGraph interns p's base/current/top nodes and every declared
// edge into nodes, and sets the package's anchors. It is shared between
// the full-session buildPatchGraph and the isolated, throwaway node table
// QueryChain builds per call (SPEC_FULL.md §10).
func wirePackageGraph(nodes map[graph.Key]*graph.VersionNode, p *descriptor.Package) {
	p.BasePv = intern(nodes, p.Coord, p.BaseRef)
	p.CurrentPv = intern(nodes, p.Coord, p.CurrentRef)
	p.TopPv = intern(nodes, p.Coord, p.TopRef)

	p.BasePv.AnchorBase = p
	p.CurrentPv.AnchorCurrent = p
	p.TopPv.AnchorTop = p

	for _, e := range p.Edges {
		e.FromNode = intern(nodes, e.Coord, e.SourceRef)
		e.ToNode = intern(nodes, e.Coord, e.TargetRef)
		e.FromNode.Outgoing = append(e.FromNode.Outgoing, e)
		e.ToNode.Incoming = append(e.ToNode.Incoming, e)
	}
}

// readContents parses contents.xml and loads every non-solo package's
// descriptor with doProcessing=true (spec.md §4.4 step 1).
func (pm *PatchMaker) readContents(ctx context.Context) error {
	manifest, err := descriptor.LoadManifest(pm.InstallDir)
	if err != nil {
		return err
	}
	pm.manifest = manifest

	for _, entry := range manifest.Entries {
		if entry.Solo {
			continue
		}
		p, err := descriptor.ReadDescriptor(pm.InstallDir, entry.Filename, true)
		if err != nil {
			dcontext.GetLogger(ctx).Warnf("patchmaker: skipping unreadable package descriptor %s: %v", entry.Filename, err)
			continue
		}
		pm.packages = append(pm.packages, p)
	}
	metrics.PackagesLoaded.Set(float64(len(pm.packages)))
	return nil
}

// buildPatchGraph interns every package's nodes and wires every
// descriptor-declared edge (spec.md §4.4 step 2).
func (pm *PatchMaker) buildPatchGraph() {
	for _, p := range pm.packages {
		wirePackageGraph(pm.nodes, p)
		for _, e := range p.Edges {
			pm.patchFilenames[e.FileRef.Filename] = true
		}
	}
}

// BuildPatches is the top-level workflow (spec.md §4.4): read, build the
// graph, author new edges for every changed package, rewrite descriptors
// and the manifest, and release session temp files. A false return with
// a nil error means the manifest could not be read and nothing was
// touched; a non-nil error is a build failure mid-authoring.
func (pm *PatchMaker) BuildPatches(ctx context.Context, filter map[string]bool) (bool, error) {
	if err := pm.readContents(ctx); err != nil {
		if errors.Is(err, errs.ManifestUnreadable) {
			return false, nil
		}
		return false, err
	}

	pm.buildPatchGraph()

	var err error
	if filter != nil {
		err = pm.processSome(ctx, filter)
	} else {
		err = pm.processAll(ctx)
	}
	if err != nil {
		return false, err
	}

	if err := pm.writeContents(ctx); err != nil {
		return false, err
	}

	pm.Shutdown()
	return true, nil
}

func (pm *PatchMaker) processAll(ctx context.Context) error {
	for _, p := range pm.packages {
		if err := pm.processPackage(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (pm *PatchMaker) processSome(ctx context.Context, filter map[string]bool) error {
	byName := make(map[string]*descriptor.Package, len(pm.packages))
	for _, p := range pm.packages {
		byName[p.Coord.Name] = p
	}

	for name := range filter {
		p, ok := byName[name]
		if !ok {
			dcontext.GetLogger(ctx).Warnf("%v: %s", errs.UnknownPackage, name)
			continue
		}
		if err := pm.processPackage(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// processPackage authors a new top->current edge if p has a new version
// (spec.md §4.4's "Unchanged"/"NewVersion" state machine).
func (pm *PatchMaker) processPackage(ctx context.Context, p *descriptor.Package) error {
	if !p.IsNewVersion() {
		return nil
	}
	if err := pm.buildPatch(ctx, p.TopPv, p.CurrentPv, p); err != nil {
		return err
	}
	pm.emit(ctx, events.ActionPatchAuthored, p.Coord, fmt.Sprintf("%s -> %s", p.TopPv.Label(), p.CurrentPv.Label()))
	return nil
}

// buildPatch authors one new PatchEdge from "from" to "to" within p,
// per spec.md §4.4's edge-authoring steps. Any failure here is fatal to
// the whole session: a half-authored artifact must not be committed.
func (pm *PatchMaker) buildPatch(ctx context.Context, from, to *graph.VersionNode, p *descriptor.Package) error {
	span, ctx := tracing.StartSpan(ctx, "patchmaker.buildPatch")
	defer tracing.StopSpan(span)

	patchName := fmt.Sprintf("%s.%d.patch", to.Ref.Filename, p.PatchVersion)
	compressedName := patchName + ".pz"
	if pm.patchFilenames[compressedName] {
		return fmt.Errorf("patchmaker: patch filename collision: %s", compressedName)
	}

	fromPath, err := from.Materialize(ctx, pm.tmpDir(), pm.Compressor, pm.Applier)
	if err != nil {
		return fmt.Errorf("patchmaker: materializing source for %s: %w", p.Coord, err)
	}
	toPath, err := to.Materialize(ctx, pm.tmpDir(), pm.Compressor, pm.Applier)
	if err != nil {
		return fmt.Errorf("patchmaker: materializing target for %s: %w", p.Coord, err)
	}

	uncompressedPath := filepath.Join(p.PackageDir(), patchName)
	buildStart := time.Now()
	buildErr := pm.Builder.Build(ctx, fromPath, toPath, uncompressedPath)
	metrics.BuildDuration.WithValues(p.Coord.Name).UpdateSince(buildStart)
	if buildErr != nil {
		return fmt.Errorf("%w: %v", errs.DeltaBuildFailure, buildErr)
	}

	compressedPath := filepath.Join(p.PackageDir(), compressedName)
	compressStart := time.Now()
	compressErr := pm.Compressor.Compress(ctx, uncompressedPath, compressedPath, pm.compressionLevel())
	metrics.CompressDuration.WithValues(p.Coord.Name).UpdateSince(compressStart)
	if compressErr != nil {
		return fmt.Errorf("%w: %v", errs.CompressFailure, compressErr)
	}
	os.Remove(uncompressedPath)

	edge, err := graph.FromFile(p.PackageDir(), compressedName, p.Coord, from.Ref, to.Ref)
	if err != nil {
		return fmt.Errorf("patchmaker: hashing new patch artifact: %w", err)
	}
	edge.Dir = p.PackageDir()
	edge.FromNode = from
	edge.ToNode = to

	p.Edges = append(p.Edges, &edge)
	p.Dirty = true
	from.Outgoing = append(from.Outgoing, &edge)
	to.Incoming = append(to.Incoming, &edge)
	pm.patchFilenames[compressedName] = true
	metrics.EdgesAuthored.WithValues(p.Coord.Name).Inc(1)

	return nil
}

// writeContents rewrites every package's descriptor (idempotent: a
// package left logically unchanged is not rewritten) and saves the
// manifest (spec.md §4.4 step 4).
func (pm *PatchMaker) writeContents(ctx context.Context) error {
	for _, p := range pm.packages {
		wasDirty := p.Dirty
		hash, importHash, err := p.WriteDescriptor(pm.InstallDir)
		if err != nil {
			return fmt.Errorf("patchmaker: writing descriptor for %s: %w", p.Coord, err)
		}
		pm.manifest.Update(p.DescriptorPath(), hash, importHash, p.Seq)
		if wasDirty {
			pm.emit(ctx, events.ActionDescriptorRewritten, p.Coord, p.DescriptorPath())
		}
	}
	if err := pm.manifest.Save(); err != nil {
		return fmt.Errorf("patchmaker: saving manifest: %w", err)
	}
	pm.emit(ctx, events.ActionManifestSaved, coord.Coord{}, "contents.xml")
	return nil
}

// Shutdown releases every interned node's temp file. Safe to call more
// than once.
func (pm *PatchMaker) Shutdown() {
	for _, n := range pm.nodes {
		if err := n.ReleaseTemp(); err != nil {
			dcontext.GetLogger(dcontext.Background()).Warnf("patchmaker: %v", err)
		}
	}
}
