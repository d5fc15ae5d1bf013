package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/packagepatch/patchmaker/configuration"
)

const testDescriptorXML = `<?xml version="1.0"?>
<package name="widget" platform="linux_amd64" version="1.2" patch_version="3">
  <uncompressed_archive filename="widget.mf" size="100" hash="sha256:current"/>
  <compressed_archive filename="widget.mf.3.pz" size="40" hash="sha256:currentpz"/>
  <top_version filename="widget.mf" size="100" hash="sha256:current"/>
  <base_version filename="widget.mf.base" size="90" hash="sha256:base"/>
  <patch filename="widget.mf.2.patch.pz" size="10" hash="sha256:patchhash">
    <source size="90" hash="sha256:base"/>
    <target size="100" hash="sha256:current"/>
  </patch>
</package>`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "widget.xml"), []byte(testDescriptorXML), 0o644); err != nil {
		t.Fatal(err)
	}

	config := &configuration.Configuration{InstallDir: dir}
	return &Server{config: config}
}

func TestHandleChainReturnsSteps(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/chain?package=widget.xml&have=sha256:base", nil)
	w := httptest.NewRecorder()
	s.handleChain(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp chainResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d: %+v", len(resp.Steps), resp.Steps)
	}
	if resp.Steps[0].SourceHash != "sha256:base" || resp.Steps[0].TargetHash != "sha256:current" {
		t.Fatalf("unexpected step: %+v", resp.Steps[0])
	}
}

func TestHandleChainMissingQueryParams(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/chain", nil)
	w := httptest.NewRecorder()
	s.handleChain(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleChainUnknownSourceReturnsNotFound(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/chain?package=widget.xml&have=sha256:nonexistent", nil)
	w := httptest.NewRecorder()
	s.handleChain(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleChainUnreadableDescriptor(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/chain?package=missing.xml&have=sha256:base", nil)
	w := httptest.NewRecorder()
	s.handleChain(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected descriptor-unreadable to map to 404, got %d: %s", w.Code, w.Body.String())
	}
}
