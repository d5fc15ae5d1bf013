package patchmaker

import (
	"github.com/packagepatch/patchmaker/descriptor"
	"github.com/packagepatch/patchmaker/filespec"
	"github.com/packagepatch/patchmaker/graph"
)

// QueryChain answers the runtime question a downloader asks: "what
// sequence of patches gets me from the archive I already have to this
// package's current?" It loads the descriptor read-only (doProcessing is
// always false: a query must never rename files or bootstrap a base) and
// builds an isolated node table scoped to this call, never touching a
// PatchMaker's session-wide interning table (spec.md §4.4's
// getPatchChainToCurrent, generalized per SPEC_FULL.md §10).
//
// A nil, nil result means either haveRef's hash is not a version known to
// the descriptor, or no path from it to current exists; a failed
// descriptor read (DescriptorUnreadable) is returned as an error so
// callers can distinguish "no chain" from "couldn't even load the
// package".
func QueryChain(installDir, descPath string, haveRef filespec.FileRef) ([]*graph.PatchEdge, error) {
	p, err := descriptor.ReadDescriptor(installDir, descPath, false)
	if err != nil {
		return nil, err
	}

	nodes := make(map[graph.Key]*graph.VersionNode)
	wirePackageGraph(nodes, p)

	source, ok := nodes[graph.Key{Coord: p.Coord, Hash: haveRef.Hash}]
	if !ok {
		return nil, nil
	}

	chain, ok := p.CurrentPv.ShortestPatchChain(source)
	if !ok {
		return nil, nil
	}
	return chain, nil
}
