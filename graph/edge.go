// Package graph implements the patch graph core: PatchEdge and VersionNode,
// the shortest-path chain search, and on-demand archive materialization.
// This is the hard, interesting part of the whole module; everything else
// (coord, filespec, descriptor, oracle) exists to feed it or persist it.
package graph

import (
	"encoding/xml"
	"fmt"

	digest "github.com/opencontainers/go-digest"

	"github.com/packagepatch/patchmaker/coord"
	"github.com/packagepatch/patchmaker/filespec"
)

// Key identifies a VersionNode within one session: a package coordinate
// plus the content hash of the archive it represents (spec.md §3, I1).
type Key struct {
	Coord coord.Coord
	Hash  digest.Digest
}

// PatchEdge is a directed edge from one archive version to another: the
// patch artifact's own FileRef, plus the source and target FileRefs that
// select the VersionNodes it wires together (spec.md §3, §4.2).
type PatchEdge struct {
	Coord     coord.Coord
	FileRef   filespec.FileRef
	SourceRef filespec.FileRef
	TargetRef filespec.FileRef

	// Dir is the package directory holding this edge's patch artifact
	// (FileRef.Filename), needed by VersionNode.Materialize to locate it.
	Dir string

	FromNode *VersionNode
	ToNode   *VersionNode
}

// SourceKey and TargetKey select the VersionNodes this edge wires
// together once interned.
func (e PatchEdge) SourceKey() Key { return Key{Coord: e.Coord, Hash: e.SourceRef.Hash} }
func (e PatchEdge) TargetKey() Key { return Key{Coord: e.Coord, Hash: e.TargetRef.Hash} }

// FromFile initializes a new edge from an on-disk patch artifact,
// hashing it to populate FileRef. The caller supplies the already-known
// source/target refs (the archives the patch was built between).
func FromFile(dir, patchName string, c coord.Coord, sourceRef, targetRef filespec.FileRef) (PatchEdge, error) {
	ref, err := filespec.FromFile(dir, patchName)
	if err != nil {
		return PatchEdge{}, fmt.Errorf("graph: edge from %s: %w", patchName, err)
	}
	return PatchEdge{
		Coord:     c,
		FileRef:   ref,
		SourceRef: sourceRef,
		TargetRef: targetRef,
		Dir:       dir,
	}, nil
}

// LoadEdgeXML populates a PatchEdge from the attribute sets of a <patch>
// element and its <source>/<target> children. defaultCoord supplies
// name/platform/version for any of the three that the element omits,
// per spec.md §4.2: "only fields that differ from the containing
// package's coord are emitted." dir is the package directory the
// resulting edge's artifact lives in.
func LoadEdgeXML(patchAttrs, sourceAttrs, targetAttrs []xml.Attr, defaultCoord coord.Coord, dir string) (PatchEdge, error) {
	c := overlayCoord(defaultCoord, patchAttrs)

	sourceRef, err := filespec.LoadXML(sourceAttrs)
	if err != nil {
		return PatchEdge{}, fmt.Errorf("graph: edge source: %w", err)
	}
	targetRef, err := filespec.LoadXML(targetAttrs)
	if err != nil {
		return PatchEdge{}, fmt.Errorf("graph: edge target: %w", err)
	}
	fileRef, err := filespec.LoadXML(patchAttrs)
	if err != nil {
		return PatchEdge{}, fmt.Errorf("graph: edge artifact: %w", err)
	}

	return PatchEdge{
		Coord:     c,
		FileRef:   fileRef,
		SourceRef: sourceRef,
		TargetRef: targetRef,
		Dir:       dir,
	}, nil
}

// MakeEdgeXML returns the attribute sets to write for the <patch> element
// and its <source>/<target> children. Coordinate attributes are only
// included when they differ from defaultCoord.
func (e PatchEdge) MakeEdgeXML(defaultCoord coord.Coord) (patchAttrs, sourceAttrs, targetAttrs []xml.Attr) {
	patchAttrs = e.FileRef.StoreXML()
	patchAttrs = append(patchAttrs, coordOverrideAttrs(defaultCoord, e.Coord)...)

	sourceAttrs = e.SourceRef.StoreMiniXML()
	targetAttrs = e.TargetRef.StoreMiniXML()
	return patchAttrs, sourceAttrs, targetAttrs
}

func overlayCoord(base coord.Coord, attrs []xml.Attr) coord.Coord {
	c := base
	for _, a := range attrs {
		switch a.Name.Local {
		case "name":
			c.Name = a.Value
		case "platform":
			c.Platform = a.Value
		case "version":
			c.Version = a.Value
		}
	}
	return c
}

func coordOverrideAttrs(base, c coord.Coord) []xml.Attr {
	var attrs []xml.Attr
	if c.Name != base.Name {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "name"}, Value: c.Name})
	}
	if c.Platform != base.Platform {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "platform"}, Value: c.Platform})
	}
	if c.Version != base.Version {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "version"}, Value: c.Version})
	}
	return attrs
}
