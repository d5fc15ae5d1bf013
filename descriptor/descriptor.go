// Package descriptor implements the on-disk package descriptor format:
// parsing and rewriting a package's <name>.xml (and its *.import.xml
// sibling), including the bootstrap, rename, and patch-version
// bookkeeping spec.md §4.4 assigns to Package.readDesc/writeDesc. It sits
// directly above graph: a Package satisfies graph.Anchor so that
// materialize() can locate a package's on-disk archives without graph
// importing this package back.
package descriptor

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	digest "github.com/opencontainers/go-digest"

	"github.com/packagepatch/patchmaker/coord"
	"github.com/packagepatch/patchmaker/errs"
	"github.com/packagepatch/patchmaker/filespec"
	"github.com/packagepatch/patchmaker/graph"
)

// Package is one loaded <name>.xml descriptor plus the package-local
// state spec.md §3 assigns to it.
type Package struct {
	packageDir     string
	descriptorPath string // relative to installDir, as named in contents.xml

	Coord coord.Coord

	CurrentRef         filespec.FileRef
	BaseRef            filespec.FileRef
	TopRef             filespec.FileRef
	CompressedFilename string
	PatchVersion       int
	Edges              []*graph.PatchEdge
	Dirty              bool
	Seq                int

	// usesLastPatchVersion records which attribute form the descriptor
	// was loaded with. WriteDescriptor does not consult it: it always
	// writes patch_version and clears this flag (spec.md §4.4: "remove ...
	// the last_patch_version attribute; set patch_version attribute").
	usesLastPatchVersion bool

	// isNewVersion is computed at load time: topRef.hash != currentRef.hash.
	isNewVersion bool

	Solo bool

	BasePv, CurrentPv, TopPv *graph.VersionNode
}

var (
	_ graph.Anchor = (*Package)(nil)
)

func (p *Package) PackageDir() string { return p.packageDir }
func (p *Package) CurrentArchivePath() string {
	return filepath.Join(p.packageDir, p.CompressedFilename)
}
func (p *Package) BaseArchivePath() string {
	return filepath.Join(p.packageDir, p.BaseRef.Filename+".pz")
}

// DescriptorPath is the path named in contents.xml, used to update the
// manifest entry after a rewrite.
func (p *Package) DescriptorPath() string { return p.descriptorPath }

// IsNewVersion reports whether this package's current archive diverges
// from its previously published top, i.e. whether processPackage must
// author a new edge.
func (p *Package) IsNewVersion() bool { return p.isNewVersion }

type packageDoc struct {
	XMLName             xml.Name   `xml:"package"`
	Attrs               []xml.Attr `xml:",any,attr"`
	UncompressedArchive rawElem    `xml:"uncompressed_archive"`
	CompressedArchive   rawElem    `xml:"compressed_archive"`
	BaseVersion         *rawElem   `xml:"base_version"`
	TopVersion          *rawElem   `xml:"top_version"`
	Patch               []patchDoc `xml:"patch"`
}

type rawElem struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

type patchDoc struct {
	Attrs  []xml.Attr `xml:",any,attr"`
	Source rawElem    `xml:"source"`
	Target rawElem    `xml:"target"`
}

// ReadDescriptor loads installDir/descPath and computes the publication
// state described in spec.md §4.4. When doProcessing is true, it may
// perform the cache-busting rename and base-bootstrap copy as side
// effects on disk.
func ReadDescriptor(installDir, descPath string, doProcessing bool) (*Package, error) {
	full := filepath.Join(installDir, descPath)
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.DescriptorUnreadable, err)
	}

	var doc packageDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.DescriptorUnreadable, err)
	}

	p := &Package{
		packageDir:     filepath.Dir(full),
		descriptorPath: descPath,
	}

	a := attrs(doc.Attrs)
	name, _ := a.get("name")
	platform, _ := a.get("platform")
	version, _ := a.get("version")
	p.Coord = coord.New(name, platform, version)

	if seq, ok, err := a.getInt("seq"); err != nil {
		return nil, fmt.Errorf("%w: bad seq: %v", errs.DescriptorUnreadable, err)
	} else if ok {
		p.Seq = seq
	}

	currentRef, err := filespec.LoadXML(doc.UncompressedArchive.Attrs)
	if err != nil {
		return nil, fmt.Errorf("%w: uncompressed_archive: %v", errs.DescriptorUnreadable, err)
	}
	p.CurrentRef = currentRef

	compressedRef, err := filespec.LoadXML(doc.CompressedArchive.Attrs)
	if err != nil {
		return nil, fmt.Errorf("%w: compressed_archive: %v", errs.DescriptorUnreadable, err)
	}
	p.CompressedFilename = compressedRef.Filename

	if doc.TopVersion != nil {
		topRef, err := filespec.LoadXML(doc.TopVersion.Attrs)
		if err != nil {
			return nil, fmt.Errorf("%w: top_version: %v", errs.DescriptorUnreadable, err)
		}
		p.TopRef = topRef
	} else {
		p.TopRef = p.CurrentRef
		p.Dirty = true
	}

	bootstrappingBase := false
	if doc.BaseVersion != nil {
		baseRef, err := filespec.LoadXML(doc.BaseVersion.Attrs)
		if err != nil {
			return nil, fmt.Errorf("%w: base_version: %v", errs.DescriptorUnreadable, err)
		}
		p.BaseRef = baseRef
	} else {
		p.BaseRef = filespec.FileRef{
			Filename: p.CurrentRef.Filename + ".base",
			Size:     p.CurrentRef.Size,
			Hash:     p.CurrentRef.Hash,
		}
		p.Dirty = true
		bootstrappingBase = true
	}

	for _, pd := range doc.Patch {
		e, err := graph.LoadEdgeXML(pd.Attrs, pd.Source.Attrs, pd.Target.Attrs, p.Coord, p.packageDir)
		if err != nil {
			return nil, fmt.Errorf("%w: patch element: %v", errs.DescriptorUnreadable, err)
		}
		p.Edges = append(p.Edges, &e)
	}

	p.isNewVersion = p.TopRef.Hash != p.CurrentRef.Hash

	if pv, ok, err := a.getInt("patch_version"); err != nil {
		return nil, fmt.Errorf("%w: bad patch_version: %v", errs.DescriptorUnreadable, err)
	} else if ok {
		p.PatchVersion = pv
	} else if lpv, ok, err := a.getInt("last_patch_version"); err != nil {
		return nil, fmt.Errorf("%w: bad last_patch_version: %v", errs.DescriptorUnreadable, err)
	} else if ok {
		p.usesLastPatchVersion = true
		p.PatchVersion = lpv
		if p.isNewVersion {
			p.PatchVersion++
		}
		p.Dirty = true
	} else {
		// Neither attribute present: first publication ever.
		p.PatchVersion = 1
		p.Dirty = true
	}

	wantCompressed := fmt.Sprintf("%s.%d.pz", p.CurrentRef.Filename, p.PatchVersion)
	if doProcessing && p.CompressedFilename != wantCompressed && p.CompressedFilename != "" {
		oldPath := filepath.Join(p.packageDir, p.CompressedFilename)
		newPath := filepath.Join(p.packageDir, wantCompressed)
		if err := os.Rename(oldPath, newPath); err != nil {
			return nil, fmt.Errorf("descriptor: cache-busting rename: %w", err)
		}
		p.CompressedFilename = wantCompressed
		p.Dirty = true
	} else if p.CompressedFilename != wantCompressed {
		p.CompressedFilename = wantCompressed
	}

	if bootstrappingBase && doProcessing {
		src := filepath.Join(p.packageDir, p.CompressedFilename)
		dst := filepath.Join(p.packageDir, p.BaseRef.Filename+".pz")
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("descriptor: base bootstrap copy: %w", err)
		}
	}

	return p, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// WriteDescriptor rewrites the descriptor if Dirty, promoting CurrentRef
// to TopRef in storage, replacing the recorded base/top/patch elements,
// bumping Seq, and mirroring Seq into the sibling import descriptor
// (spec.md §4.4 "Descriptor write").
func (p *Package) WriteDescriptor(installDir string) (digest.Digest, digest.Digest, error) {
	if !p.Dirty {
		current, err := filespec.FromFile(installDir, p.descriptorPath)
		if err != nil {
			return "", "", err
		}
		importHash, err := importDescriptorHash(installDir, p.descriptorPath)
		return current.Hash, importHash, err
	}

	p.Seq++

	doc := packageDoc{
		Attrs: attrs(nil).
			set("name", p.Coord.Name).
			set("platform", p.Coord.Platform).
			set("version", p.Coord.Version).
			set("seq", fmt.Sprintf("%d", p.Seq)).
			set("patch_version", fmt.Sprintf("%d", p.PatchVersion)),
	}
	compressedRef, err := filespec.FromFile(p.packageDir, p.CompressedFilename)
	if err != nil {
		return "", "", fmt.Errorf("descriptor: hashing published archive: %w", err)
	}

	doc.UncompressedArchive = rawElem{Attrs: p.CurrentRef.StoreXML()}
	doc.CompressedArchive = rawElem{Attrs: compressedRef.StoreXML()}
	doc.BaseVersion = &rawElem{Attrs: p.BaseRef.StoreXML()}
	// Promote current to top in storage.
	doc.TopVersion = &rawElem{Attrs: p.CurrentRef.StoreXML()}

	for _, e := range p.Edges {
		patchAttrs, sourceAttrs, targetAttrs := e.MakeEdgeXML(p.Coord)
		doc.Patch = append(doc.Patch, patchDoc{
			Attrs:  patchAttrs,
			Source: rawElem{Attrs: sourceAttrs},
			Target: rawElem{Attrs: targetAttrs},
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("descriptor: marshal: %w", err)
	}
	full := filepath.Join(installDir, p.descriptorPath)
	if err := os.WriteFile(full, append([]byte(xml.Header), out...), 0o644); err != nil {
		return "", "", fmt.Errorf("descriptor: write: %w", err)
	}

	// In-memory state now matches the on-disk "unchanged" shape for any
	// subsequent read within the same session.
	p.TopRef = p.CurrentRef
	p.usesLastPatchVersion = false
	p.isNewVersion = false
	p.Dirty = false

	importHash, err := writeImportDescriptor(installDir, p.descriptorPath, p.Seq)
	if err != nil {
		return "", "", err
	}

	hash, err := filespec.FromFile(installDir, p.descriptorPath)
	if err != nil {
		return "", "", err
	}
	return hash.Hash, importHash, nil
}

func importPath(descPath string) string {
	ext := filepath.Ext(descPath)
	return strings.TrimSuffix(descPath, ext) + ".import" + ext
}

func importDescriptorHash(installDir, descPath string) (digest.Digest, error) {
	ip := importPath(descPath)
	full := filepath.Join(installDir, ip)
	if _, err := os.Stat(full); err != nil {
		return "", nil
	}
	ref, err := filespec.FromFile(installDir, ip)
	if err != nil {
		return "", err
	}
	return ref.Hash, nil
}

// writeImportDescriptor sets (or creates) the sibling *.import.xml with
// the mirrored seq attribute only (spec.md §6).
func writeImportDescriptor(installDir, descPath string, seq int) (digest.Digest, error) {
	ip := importPath(descPath)
	full := filepath.Join(installDir, ip)

	type importDoc struct {
		XMLName xml.Name   `xml:"import"`
		Attrs   []xml.Attr `xml:",any,attr"`
	}

	var a attrs
	if data, err := os.ReadFile(full); err == nil {
		var existing importDoc
		if err := xml.Unmarshal(data, &existing); err == nil {
			a = attrs(existing.Attrs)
		}
	}
	a = a.set("seq", fmt.Sprintf("%d", seq))

	out, err := xml.MarshalIndent(importDoc{Attrs: a}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("descriptor: marshal import doc: %w", err)
	}
	if err := os.WriteFile(full, append([]byte(xml.Header), out...), 0o644); err != nil {
		return "", fmt.Errorf("descriptor: write import doc: %w", err)
	}

	ref, err := filespec.FromFile(installDir, ip)
	if err != nil {
		return "", err
	}
	return ref.Hash, nil
}
