package descriptor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/packagepatch/patchmaker/filespec"
)

func writeArchive(t *testing.T, dir, name, content string) filespec.FileRef {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	ref, err := filespec.FromFile(dir, name)
	if err != nil {
		t.Fatal(err)
	}
	return ref
}

// S1 — no-op publication: current and top already match, patch_version
// present verbatim. No edge authored, not dirty, nothing written.
func TestReadDescriptorNoOpPublication(t *testing.T) {
	dir := t.TempDir()
	cur := writeArchive(t, dir, "pkg.mf", "archive-v3")
	writeArchive(t, dir, "pkg.mf.3.pz", "compressed-v3")
	writeArchive(t, dir, "pkg.mf.base", "archive-v1")

	doc := `<?xml version="1.0"?>
<package name="widget" platform="linux_amd64" version="3" seq="7" patch_version="3">
  <uncompressed_archive filename="` + cur.Filename + `" size="` + itoa(cur.Size) + `" hash="` + string(cur.Hash) + `"/>
  <compressed_archive filename="pkg.mf.3.pz" size="1" hash="sha256:x"/>
  <base_version filename="pkg.mf.base" size="1" hash="sha256:y"/>
  <top_version filename="` + cur.Filename + `" size="` + itoa(cur.Size) + `" hash="` + string(cur.Hash) + `"/>
</package>`
	if err := os.WriteFile(filepath.Join(dir, "pkg.xml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := ReadDescriptor(dir, "pkg.xml", true)
	if err != nil {
		t.Fatal(err)
	}
	if p.IsNewVersion() {
		t.Error("expected no new version")
	}
	if p.Dirty {
		t.Error("expected not dirty for an unchanged descriptor")
	}
	if p.PatchVersion != 3 {
		t.Errorf("expected patch version 3, got %d", p.PatchVersion)
	}
	if len(p.Edges) != 0 {
		t.Errorf("expected no edges, got %d", len(p.Edges))
	}
}

// S2 — first publication (bootstrap): no base_version/top_version,
// no last_patch_version. baseRef synthesized as "<current>.base", topRef
// synthesized equal to current, patchVersion becomes 1.
func TestReadDescriptorBootstrap(t *testing.T) {
	dir := t.TempDir()
	cur := writeArchive(t, dir, "pkg.mf", "archive-v1")
	writeArchive(t, dir, "pkg.mf.pz", "compressed-v1")

	doc := `<?xml version="1.0"?>
<package name="widget" platform="linux_amd64" version="1" seq="1">
  <uncompressed_archive filename="` + cur.Filename + `" size="` + itoa(cur.Size) + `" hash="` + string(cur.Hash) + `"/>
  <compressed_archive filename="pkg.mf.pz" size="1" hash="sha256:x"/>
</package>`
	if err := os.WriteFile(filepath.Join(dir, "pkg.xml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := ReadDescriptor(dir, "pkg.xml", true)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Dirty {
		t.Error("expected dirty after bootstrap synthesis")
	}
	if p.PatchVersion != 1 {
		t.Errorf("expected patch version 1, got %d", p.PatchVersion)
	}
	if p.BaseRef.Filename != "pkg.mf.base" {
		t.Errorf("expected synthesized base filename pkg.mf.base, got %q", p.BaseRef.Filename)
	}
	if p.TopRef.Hash != p.CurrentRef.Hash {
		t.Error("expected synthesized top to equal current")
	}
	if p.CompressedFilename != "pkg.mf.1.pz" {
		t.Errorf("expected cache-busting rename to pkg.mf.1.pz, got %q", p.CompressedFilename)
	}
	if _, err := os.Stat(filepath.Join(dir, "pkg.mf.1.pz")); err != nil {
		t.Errorf("expected renamed compressed archive on disk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "pkg.mf.base.pz")); err != nil {
		t.Errorf("expected base bootstrap copy on disk: %v", err)
	}
	if p.IsNewVersion() {
		t.Error("bootstrap with a synthesized top equal to current is not itself a new version")
	}
}

// S3 — second publication: predecessor is S2's output; new current has
// a distinct hash. One edge authored by the caller (buildPatch, tested
// at the patchmaker layer); here we verify the detection and the
// patch-version/rename machinery in isolation using last_patch_version.
func TestReadDescriptorSecondPublicationDetectsNewVersion(t *testing.T) {
	dir := t.TempDir()
	cur := writeArchive(t, dir, "pkg.mf", "archive-v2")
	base := writeArchive(t, dir, "pkg.mf.base", "archive-v1")
	writeArchive(t, dir, "pkg.mf.1.pz", "compressed-v2-stale-name")

	doc := `<?xml version="1.0"?>
<package name="widget" platform="linux_amd64" version="2" seq="2" last_patch_version="1">
  <uncompressed_archive filename="` + cur.Filename + `" size="` + itoa(cur.Size) + `" hash="` + string(cur.Hash) + `"/>
  <compressed_archive filename="pkg.mf.1.pz" size="1" hash="sha256:x"/>
  <base_version filename="pkg.mf.base" size="` + itoa(base.Size) + `" hash="` + string(base.Hash) + `"/>
  <top_version filename="pkg.mf.old" size="1" hash="sha256:old-top"/>
</package>`
	if err := os.WriteFile(filepath.Join(dir, "pkg.xml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := ReadDescriptor(dir, "pkg.xml", true)
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsNewVersion() {
		t.Error("expected a new version (top hash differs from current hash)")
	}
	if p.PatchVersion != 2 {
		t.Errorf("expected last_patch_version 1 incremented to 2, got %d", p.PatchVersion)
	}
	if p.CompressedFilename != "pkg.mf.2.pz" {
		t.Errorf("expected rename to pkg.mf.2.pz, got %q", p.CompressedFilename)
	}
	if !p.Dirty {
		t.Error("expected dirty: last_patch_version normalization and rename")
	}
}

// Invariant 8 — round trip: a descriptor that is logically unchanged
// (no new version, no synthesis needed) must not be rewritten at all.
func TestWriteDescriptorNoOpDoesNotRewrite(t *testing.T) {
	dir := t.TempDir()
	cur := writeArchive(t, dir, "pkg.mf", "archive-v3")
	writeArchive(t, dir, "pkg.mf.3.pz", "compressed-v3")
	writeArchive(t, dir, "pkg.mf.base", "archive-v1")

	doc := `<?xml version="1.0"?>
<package name="widget" platform="linux_amd64" version="3" seq="7" patch_version="3">
  <uncompressed_archive filename="` + cur.Filename + `" size="` + itoa(cur.Size) + `" hash="` + string(cur.Hash) + `"/>
  <compressed_archive filename="pkg.mf.3.pz" size="1" hash="sha256:x"/>
  <base_version filename="pkg.mf.base" size="1" hash="sha256:y"/>
  <top_version filename="` + cur.Filename + `" size="` + itoa(cur.Size) + `" hash="` + string(cur.Hash) + `"/>
</package>`
	path := filepath.Join(dir, "pkg.xml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	p, err := ReadDescriptor(dir, "pkg.xml", true)
	if err != nil {
		t.Fatal(err)
	}
	if p.Dirty {
		t.Fatal("precondition failed: descriptor should load clean")
	}
	if _, _, err := p.WriteDescriptor(dir); err != nil {
		t.Fatal(err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("expected a clean descriptor to be left byte-for-byte unchanged")
	}
}

func TestWriteDescriptorDirtyRewritesAndBumpsSeq(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "pkg.mf", "archive-v1")
	writeArchive(t, dir, "pkg.mf.pz", "compressed-v1")

	doc := `<?xml version="1.0"?>
<package name="widget" platform="linux_amd64" version="1" seq="1">
  <uncompressed_archive filename="pkg.mf" size="1" hash="sha256:x"/>
  <compressed_archive filename="pkg.mf.pz" size="1" hash="sha256:x"/>
</package>`
	if err := os.WriteFile(filepath.Join(dir, "pkg.xml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := ReadDescriptor(dir, "pkg.xml", true)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.WriteDescriptor(dir); err != nil {
		t.Fatal(err)
	}
	if p.Seq != 2 {
		t.Errorf("expected seq bumped to 2, got %d", p.Seq)
	}

	out, err := os.ReadFile(filepath.Join(dir, "pkg.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `patch_version="1"`) {
		t.Errorf("expected rewritten descriptor to carry patch_version=1, got:\n%s", out)
	}
	if strings.Contains(string(out), "last_patch_version") {
		t.Error("expected last_patch_version to be normalized away")
	}

	if _, err := os.Stat(filepath.Join(dir, "pkg.import.xml")); err != nil {
		t.Errorf("expected sibling import descriptor to be written: %v", err)
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
