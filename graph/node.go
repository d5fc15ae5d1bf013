package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/packagepatch/patchmaker/coord"
	"github.com/packagepatch/patchmaker/errs"
	"github.com/packagepatch/patchmaker/filespec"
	"github.com/packagepatch/patchmaker/metrics"
	"github.com/packagepatch/patchmaker/oracle"
	"github.com/packagepatch/patchmaker/tracing"
)

// Anchor is the subset of a loaded package descriptor that VersionNode
// needs in order to locate an anchored archive's bytes on disk, without
// graph importing the descriptor package (which itself imports graph to
// hold interned *VersionNode pointers). Package satisfies this interface.
type Anchor interface {
	// PackageDir is the package's root directory on disk.
	PackageDir() string
	// CurrentArchivePath is the full path to the published compressed
	// current archive (<packageDir>/<compressedFilename>).
	CurrentArchivePath() string
	// BaseArchivePath is the full path to the compressed base archive
	// (<packageDir>/<baseRef.filename>.pz).
	BaseArchivePath() string
}

// VersionNode is one distinct archive content, interned per (coord, hash)
// (spec.md §3). It knows its incoming and outgoing edges, whether it is
// anchored to a file already present on disk, and how to produce its
// archive bytes on demand.
type VersionNode struct {
	Coord coord.Coord
	Ref   filespec.FileRef

	AnchorCurrent Anchor
	AnchorBase    Anchor
	AnchorTop     Anchor

	Incoming []*PatchEdge
	Outgoing []*PatchEdge

	// TempFile is the path to this node's materialized archive bytes,
	// populated lazily during the session and owned by the node.
	TempFile string
}

// Key returns this node's identity within the interning table.
func (n *VersionNode) Key() Key {
	return Key{Coord: n.Coord, Hash: n.Ref.Hash}
}

// Label is a short human-readable identifier for logs, the equivalent of
// the original's printName.
func (n *VersionNode) Label() string {
	enc := n.Ref.Hash.Encoded()
	if len(enc) > 12 {
		enc = enc[:12]
	}
	return fmt.Sprintf("%s#%s", n.Coord, enc)
}

// Next walks this node's outgoing edges for one coordinate to c, returning
// the edge's ToNode. This is the Go shape of the original's getNext, which
// scans self.toPatches for a patch whose coord matches the argument and
// returns patch.toPv.
func (n *VersionNode) Next(c coord.Coord) (*VersionNode, bool) {
	for _, e := range n.Outgoing {
		if e.Coord == c {
			return e.ToNode, true
		}
	}
	return nil, false
}

func cloneVisited(visited map[*VersionNode]bool, add *VersionNode) map[*VersionNode]bool {
	out := make(map[*VersionNode]bool, len(visited)+1)
	for k, v := range visited {
		out[k] = v
	}
	out[add] = true
	return out
}

// ShortestPatchChain returns the shortest sequence of edges that, applied
// in order starting at source's archive, produces n's archive. Search
// proceeds backwards from n along Incoming edges (spec.md §4.3). A nil,
// false result means no path exists; a non-nil empty slice means
// n == source.
func (n *VersionNode) ShortestPatchChain(source *VersionNode) ([]*PatchEdge, bool) {
	chain, ok := shortestChain(n, source, map[*VersionNode]bool{})
	if !ok {
		return nil, false
	}
	if chain == nil {
		chain = []*PatchEdge{}
	}
	return chain, true
}

// shortestChain implements the backward DFS described in spec.md §4.3,
// passing visited by value (via cloneVisited) at each recursive step so
// that sibling branches never alias one another's visited sets (the
// "default-argument aliasing" design note).
func shortestChain(target, source *VersionNode, visited map[*VersionNode]bool) ([]*PatchEdge, bool) {
	if target == source {
		return nil, true
	}
	if visited[target] {
		return nil, false
	}

	branchVisited := cloneVisited(visited, target)

	var best []*PatchEdge
	found := false
	for _, e := range target.Incoming {
		sub, ok := shortestChain(e.FromNode, source, branchVisited)
		if !ok {
			continue
		}
		candidate := make([]*PatchEdge, 0, len(sub)+1)
		candidate = append(candidate, sub...)
		candidate = append(candidate, e)
		if !found || len(candidate) < len(best) {
			best = candidate
			found = true
		}
	}
	return best, found
}

// materializePlan is the realized form of spec.md §4.3's (startFile,
// startNode, edges[]) triple.
type materializePlan struct {
	startFile string
	startNode *VersionNode
	steps     []planStep
}

type planStep struct {
	edge *PatchEdge
	node *VersionNode
}

func (n *VersionNode) plan(visited map[*VersionNode]bool) (*materializePlan, bool) {
	if n.TempFile != "" {
		return &materializePlan{startFile: n.TempFile, startNode: n}, true
	}
	if visited[n] {
		return nil, false
	}
	if n.AnchorCurrent != nil {
		return &materializePlan{startFile: n.AnchorCurrent.CurrentArchivePath(), startNode: n}, true
	}
	if n.AnchorBase != nil {
		return &materializePlan{startFile: n.AnchorBase.BaseArchivePath(), startNode: n}, true
	}

	branchVisited := cloneVisited(visited, n)

	var best *materializePlan
	for _, e := range n.Incoming {
		sub, ok := e.FromNode.plan(branchVisited)
		if !ok {
			continue
		}
		steps := make([]planStep, 0, len(sub.steps)+1)
		steps = append(steps, sub.steps...)
		steps = append(steps, planStep{edge: e, node: n})
		candidate := &materializePlan{startFile: sub.startFile, startNode: sub.startNode, steps: steps}
		if best == nil || len(candidate.steps) < len(best.steps) {
			best = candidate
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// Materialize reconstructs this node's archive bytes on disk, returning
// the path to a file whose content hash equals n.Ref.Hash (spec.md §4.3,
// invariant 5). tmpDir is the directory temp files are created under;
// comp/app are the out-of-scope compression and delta-apply oracles.
//
// Within one session, materializing the same node twice is a cache hit:
// the first call's TempFile (or anchor) is returned again without
// re-applying any patch (invariant 6).
func (n *VersionNode) Materialize(ctx context.Context, tmpDir string, comp oracle.Compressor, app oracle.Applier) (string, error) {
	span, ctx := tracing.StartSpan(ctx, "graph.Materialize")
	defer tracing.StopSpan(span)

	alreadyCached := n.TempFile != ""

	p, ok := n.plan(map[*VersionNode]bool{})
	if !ok {
		return "", errs.MissingSource.WithDetail(n.Label())
	}

	if alreadyCached {
		metrics.Materializations.WithValues("hit").Inc(1)
	} else {
		metrics.Materializations.WithValues("miss").Inc(1)
	}

	current := p.startFile
	if strings.HasSuffix(current, ".pz") {
		decompressed, err := newTempFile(tmpDir, "patch_")
		if err != nil {
			return "", err
		}
		if err := comp.Decompress(ctx, current, decompressed); err != nil {
			return "", fmt.Errorf("graph: decompress anchor for %s: %w", p.startNode.Label(), err)
		}
		if p.startNode.TempFile != "" && p.startNode.TempFile != decompressed {
			os.Remove(decompressed)
			return "", fmt.Errorf("graph: materialize %s: temp file already assigned", p.startNode.Label())
		}
		p.startNode.TempFile = decompressed
		current = decompressed
	}

	if len(p.steps) == 0 {
		return current, nil
	}

	for _, step := range p.steps {
		if step.node.TempFile != "" {
			current = step.node.TempFile
			continue
		}
		patchPath := filepath.Join(step.edge.Dir, step.edge.FileRef.Filename)
		patchFile := patchPath
		if strings.HasSuffix(patchPath, ".pz") {
			decompressedPatch, err := newTempFile(tmpDir, "patch_")
			if err != nil {
				return "", err
			}
			if err := comp.Decompress(ctx, patchPath, decompressedPatch); err != nil {
				os.Remove(decompressedPatch)
				return "", fmt.Errorf("graph: decompress patch %s: %w", patchPath, err)
			}
			defer os.Remove(decompressedPatch)
			patchFile = decompressedPatch
		}

		out, err := newTempFile(tmpDir, "patch_")
		if err != nil {
			return "", err
		}
		if err := app.Apply(ctx, patchFile, current, out); err != nil {
			os.Remove(out)
			return "", fmt.Errorf("%w: applying to %s: %v", errs.ApplyFailure, step.node.Label(), err)
		}
		step.node.TempFile = out
		current = out
	}

	return current, nil
}

// ReleaseTemp unlinks this node's temp file, if any, per the session
// teardown contract in spec.md §5 ("shutdown() must unlink every
// non-null tempFile"). Anchored nodes whose "temp file" is really a
// decompressed anchor copy are released the same way.
func (n *VersionNode) ReleaseTemp() error {
	if n.TempFile == "" {
		return nil
	}
	err := os.Remove(n.TempFile)
	n.TempFile = ""
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("graph: release temp for %s: %w", n.Label(), err)
	}
	return nil
}

func newTempFile(dir, prefix string) (string, error) {
	f, err := os.CreateTemp(dir, prefix)
	if err != nil {
		return "", fmt.Errorf("graph: create temp file: %w", err)
	}
	path := f.Name()
	f.Close()
	return path, nil
}
