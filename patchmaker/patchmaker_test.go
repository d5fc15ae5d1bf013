package patchmaker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/packagepatch/patchmaker/filespec"
)

// fakeBuilder/fakeApplier/fakeCompressor exercise the full buildPatch
// pipeline without needing a real binary-delta tool or zlib on disk;
// "patches" are just the literal suffix bytes appended since the
// previous archive, mirroring the concatApplier used in graph's tests.
type fakeBuilder struct{}

func (fakeBuilder) Build(ctx context.Context, origFile, newFile, patchOut string) error {
	orig, err := os.ReadFile(origFile)
	if err != nil {
		return err
	}
	newer, err := os.ReadFile(newFile)
	if err != nil {
		return err
	}
	if len(newer) < len(orig) || string(newer[:len(orig)]) != string(orig) {
		return os.WriteFile(patchOut, newer, 0o644)
	}
	return os.WriteFile(patchOut, newer[len(orig):], 0o644)
}

type fakeApplier struct{}

func (fakeApplier) Apply(ctx context.Context, patchFile, origFile, newOut string) error {
	orig, err := os.ReadFile(origFile)
	if err != nil {
		return err
	}
	patch, err := os.ReadFile(patchFile)
	if err != nil {
		return err
	}
	return os.WriteFile(newOut, append(append([]byte{}, orig...), patch...), 0o644)
}

type fakeCompressor struct{}

func (fakeCompressor) Compress(ctx context.Context, in, out string, level int) error {
	b, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0o644)
}

func (fakeCompressor) Decompress(ctx context.Context, in, out string) error {
	b, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0o644)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func mustRef(t *testing.T, dir, name string) filespec.FileRef {
	t.Helper()
	ref, err := filespec.FromFile(dir, name)
	if err != nil {
		t.Fatal(err)
	}
	return ref
}

// TestBuildPatchesBootstrapThenPublish walks S2 then S3 through the full
// PatchMaker session: first run bootstraps base/top from current
// (patchVersion becomes 1, no edge authored); second run, with a new
// current archive, authors exactly one edge and ends with top == current
// (invariant 7, publication closure).
func TestBuildPatchesBootstrapThenPublish(t *testing.T) {
	installDir := t.TempDir()
	pkgDir := filepath.Join(installDir, "widget")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(pkgDir, "pkg.mf"), "archive-v1")
	cur1 := mustRef(t, pkgDir, "pkg.mf")
	writeFile(t, filepath.Join(pkgDir, "pkg.mf.pz"), "archive-v1")

	descPath := "widget/pkg.xml"
	descDoc := `<?xml version="1.0"?>
<package name="widget" platform="linux_amd64" version="1" seq="1">
  <uncompressed_archive filename="pkg.mf" size="` + itoa(cur1.Size) + `" hash="` + string(cur1.Hash) + `"/>
  <compressed_archive filename="pkg.mf.pz" size="1" hash="sha256:x"/>
</package>`
	writeFile(t, filepath.Join(installDir, descPath), descDoc)

	manifestDoc := `<?xml version="1.0"?>
<contents seq="0">
  <package filename="` + descPath + `"/>
</contents>`
	writeFile(t, filepath.Join(installDir, "contents.xml"), manifestDoc)

	pm := New(installDir, fakeBuilder{}, fakeApplier{}, fakeCompressor{})
	pm.TmpDir = t.TempDir()

	ok, err := pm.BuildPatches(context.Background(), nil)
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	if !ok {
		t.Fatal("expected first build to succeed")
	}

	if _, err := os.Stat(filepath.Join(pkgDir, "pkg.mf.base.pz")); err != nil {
		t.Errorf("expected base bootstrap file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(pkgDir, "pkg.mf.1.pz")); err != nil {
		t.Errorf("expected renamed compressed archive pkg.mf.1.pz: %v", err)
	}

	// Second publication: a new current archive. An external archiving
	// step (out of scope here, same as the pack's real archiver) is
	// responsible for both dropping the new uncompressed file in place
	// and republishing it, uncompressed, under the descriptor's existing
	// compressed-archive name; patchmaker only reacts to the divergence
	// between that declared current and the previously recorded top.
	writeFile(t, filepath.Join(pkgDir, "pkg.mf"), "archive-v1-plus-more")
	cur2 := mustRef(t, pkgDir, "pkg.mf")
	writeFile(t, filepath.Join(pkgDir, "pkg.mf.1.pz"), "archive-v1-plus-more")

	descData, err := os.ReadFile(filepath.Join(installDir, descPath))
	if err != nil {
		t.Fatal(err)
	}
	oldAttrs := `filename="pkg.mf" size="` + itoa(cur1.Size) + `" hash="` + string(cur1.Hash) + `"`
	newAttrs := `filename="pkg.mf" size="` + itoa(cur2.Size) + `" hash="` + string(cur2.Hash) + `"`
	updated := strings.Replace(string(descData), oldAttrs, newAttrs, 1)
	if updated == string(descData) {
		t.Fatal("expected to rewrite the descriptor's declared current archive")
	}
	// The same external step flips patch_version back to
	// last_patch_version: the prior publication's patch number is final
	// only until a new current shows up, same as the pack's own
	// convention for this pair of attributes.
	updated = strings.Replace(updated, `patch_version="1"`, `last_patch_version="1"`, 1)
	writeFile(t, filepath.Join(installDir, descPath), updated)

	pm2 := New(installDir, fakeBuilder{}, fakeApplier{}, fakeCompressor{})
	pm2.TmpDir = t.TempDir()
	ok, err = pm2.BuildPatches(context.Background(), nil)
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}
	if !ok {
		t.Fatal("expected second build to succeed")
	}

	if _, err := os.Stat(filepath.Join(pkgDir, "pkg.mf.2.pz")); err != nil {
		t.Errorf("expected cache-busting rename to pkg.mf.2.pz: %v", err)
	}

	// Re-read the descriptor fresh to check the post-write invariants
	// directly off disk, the way a fresh session would.
	finalData, err := os.ReadFile(filepath.Join(installDir, descPath))
	if err != nil {
		t.Fatal(err)
	}
	finalDoc := string(finalData)
	if !contains(finalDoc, `patch_version="2"`) {
		t.Errorf("expected patch_version=2 in final descriptor:\n%s", finalDoc)
	}
	if !contains(finalDoc, "<patch") {
		t.Errorf("expected one <patch> element recorded:\n%s", finalDoc)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
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
