package descriptor

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"

	"github.com/packagepatch/patchmaker/errs"
)

// ManifestEntry is one <package> child of contents.xml: a pointer to a
// package descriptor plus the skip flag and the hash/seq bookkeeping that
// lets a downloader detect whether it needs to refetch the descriptor.
type ManifestEntry struct {
	Filename   string // descriptor path, relative to the manifest's directory
	Solo       bool
	Hash       digest.Digest // hash of the descriptor document
	ImportHash digest.Digest // hash of the sibling *.import.xml
	Seq        int
}

// Manifest is the parsed root <contents> element of contents.xml
// (spec.md §6).
type Manifest struct {
	dir     string
	Seq     int
	Entries []*ManifestEntry
}

type contentsDoc struct {
	XMLName xml.Name       `xml:"contents"`
	Attrs   []xml.Attr     `xml:",any,attr"`
	Package []packageEntry `xml:"package"`
}

type packageEntry struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

// LoadManifest reads <installDir>/contents.xml and increments its
// sequence counter, per spec.md §4.4 step 1 ("readContents ... parses
// the install-root manifest, incrementing its sequence").
func LoadManifest(installDir string) (*Manifest, error) {
	path := filepath.Join(installDir, "contents.xml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ManifestUnreadable, err)
	}

	var doc contentsDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ManifestUnreadable, err)
	}

	m := &Manifest{dir: installDir}
	seq, _, err := attrs(doc.Attrs).getInt("seq")
	if err != nil {
		return nil, fmt.Errorf("%w: bad seq attribute: %v", errs.ManifestUnreadable, err)
	}
	m.Seq = seq + 1

	for _, p := range doc.Package {
		e := &ManifestEntry{}
		if v, ok := attrs(p.Attrs).get("filename"); ok {
			e.Filename = v
		}
		if v, ok := attrs(p.Attrs).get("solo"); ok {
			e.Solo = v == "true" || v == "1"
		}
		if v, ok := attrs(p.Attrs).get("hash"); ok {
			e.Hash = digest.Digest(v)
		}
		if v, ok := attrs(p.Attrs).get("import_hash"); ok {
			e.ImportHash = digest.Digest(v)
		}
		if seq, ok, err := attrs(p.Attrs).getInt("seq"); err == nil && ok {
			e.Seq = seq
		}
		m.Entries = append(m.Entries, e)
	}

	return m, nil
}

// Update refreshes the hash/import-hash/seq bookkeeping for the entry
// naming descPath, after that descriptor has been rewritten.
func (m *Manifest) Update(descPath string, hash, importHash digest.Digest, seq int) {
	for _, e := range m.Entries {
		if e.Filename == descPath {
			e.Hash = hash
			e.ImportHash = importHash
			e.Seq = seq
			return
		}
	}
}

// Save rewrites contents.xml with the current Seq and entries.
func (m *Manifest) Save() error {
	doc := contentsDoc{
		Attrs: attrs(nil).set("seq", fmt.Sprintf("%d", m.Seq)),
	}
	for _, e := range m.Entries {
		a := attrs(nil).set("filename", e.Filename)
		if e.Solo {
			a = a.set("solo", "true")
		}
		if e.Hash != "" {
			a = a.set("hash", string(e.Hash))
		}
		if e.ImportHash != "" {
			a = a.set("import_hash", string(e.ImportHash))
		}
		a = a.set("seq", fmt.Sprintf("%d", e.Seq))
		doc.Package = append(doc.Package, packageEntry{Attrs: a})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("descriptor: marshal manifest: %w", err)
	}
	path := filepath.Join(m.dir, "contents.xml")
	if err := os.WriteFile(path, append([]byte(xml.Header), out...), 0o644); err != nil {
		return fmt.Errorf("descriptor: write manifest: %w", err)
	}
	return nil
}
