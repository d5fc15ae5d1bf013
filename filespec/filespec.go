// Package filespec implements FileRef, the identity-by-hash reference to a
// file on disk that anchors the patch graph's node identity. It is the Go
// analogue of the pack's blob descriptors (registry/storage/cache,
// manifeststore.go), built on the same content-hash type,
// github.com/opencontainers/go-digest, that the rest of the ecosystem uses
// for registry blobs.
package filespec

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"
)

// FileRef is (filename, size, hash). Two refs are graph-equivalent iff
// their Hash matches; Filename is advisory only.
type FileRef struct {
	Filename string
	Size     int64
	Hash     digest.Digest
}

// FromFile recomputes Size and Hash from the file at dir/name, setting
// Filename to name.
func FromFile(dir, name string) (FileRef, error) {
	full := filepath.Join(dir, name)
	f, err := os.Open(full)
	if err != nil {
		return FileRef{}, fmt.Errorf("filespec: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileRef{}, fmt.Errorf("filespec: %w", err)
	}

	digester := digest.SHA256.Digester()
	if _, err := io.Copy(digester.Hash(), f); err != nil {
		return FileRef{}, fmt.Errorf("filespec: hashing %s: %w", full, err)
	}

	return FileRef{
		Filename: name,
		Size:     info.Size(),
		Hash:     digester.Digest(),
	}, nil
}

// Equivalent reports whether two refs name the same content, per spec.md §3:
// "Two refs are graph-equivalent iff their hash matches; filename is advisory."
func (f FileRef) Equivalent(other FileRef) bool {
	return f.Hash == other.Hash
}

// IsZero reports whether f has never been populated.
func (f FileRef) IsZero() bool {
	return f.Hash == "" && f.Filename == "" && f.Size == 0
}

// xmlAttrs is a generic element-with-attributes shape over encoding/xml's
// Attr slice. LoadXML and StoreXML do not use it: they read and write
// []xml.Attr directly, looking attributes up by name.
type xmlAttrs struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
}

func attrValue(attrs []xml.Attr, local string) (string, bool) {
	for _, a := range attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// LoadXML populates (filename, size, hash) from a raw XML element (as
// produced by an encoding/xml.Decoder token stream positioned on a start
// element with filename/size/hash/digest attributes).
func LoadXML(attrs []xml.Attr) (FileRef, error) {
	var ref FileRef

	if v, ok := attrValue(attrs, "filename"); ok {
		ref.Filename = v
	}
	if v, ok := attrValue(attrs, "size"); ok {
		var size int64
		if _, err := fmt.Sscanf(v, "%d", &size); err != nil {
			return FileRef{}, fmt.Errorf("filespec: bad size attribute %q: %w", v, err)
		}
		ref.Size = size
	}
	// "hash" is the spec's generic attribute name; accept "digest" too,
	// since that's what opencontainers/go-digest-based content elsewhere in
	// the ecosystem (e.g. registry/storage/cache) calls it.
	if v, ok := attrValue(attrs, "hash"); ok {
		ref.Hash = digest.Digest(v)
	} else if v, ok := attrValue(attrs, "digest"); ok {
		ref.Hash = digest.Digest(v)
	}

	return ref, nil
}

// StoreXML returns the full attribute set: filename, size, hash.
func (f FileRef) StoreXML() []xml.Attr {
	return []xml.Attr{
		{Name: xml.Name{Local: "filename"}, Value: f.Filename},
		{Name: xml.Name{Local: "size"}, Value: fmt.Sprintf("%d", f.Size)},
		{Name: xml.Name{Local: "hash"}, Value: string(f.Hash)},
	}
}

// StoreMiniXML returns the reduced attribute set used for <source>/<target>
// children of a <patch> element, where filename is implied by the edge's
// own FileRef and need not be repeated (spec.md §4.2).
func (f FileRef) StoreMiniXML() []xml.Attr {
	return []xml.Attr{
		{Name: xml.Name{Local: "size"}, Value: fmt.Sprintf("%d", f.Size)},
		{Name: xml.Name{Local: "hash"}, Value: string(f.Hash)},
	}
}
