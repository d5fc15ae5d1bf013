package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/packagepatch/patchmaker/errs"
	"github.com/packagepatch/patchmaker/filespec"
	"github.com/packagepatch/patchmaker/patchmaker"
)

// chainStep is the wire shape of one edge in a chain response: enough for
// a downloader to fetch the patch artifact and know what it produces.
type chainStep struct {
	Filename   string `json:"filename"`
	SourceHash string `json:"source_hash"`
	TargetHash string `json:"target_hash"`
}

type chainResponse struct {
	Steps []chainStep `json:"steps"`
}

// handleChain answers GET {prefix}/v1/chain?package=<descriptor.xml>&have=<digest>,
// the HTTP shape of spec.md §6's getPatchChainToCurrent: the sequence of
// patch artifacts a downloader holding "have" must apply, in order, to
// reach the package's published current.
func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	descPath := filepath.Clean(r.URL.Query().Get("package"))
	haveHash := r.URL.Query().Get("have")
	if descPath == "." || descPath == "" || haveHash == "" {
		http.Error(w, "package and have query parameters are required", http.StatusBadRequest)
		return
	}

	chain, err := patchmaker.QueryChain(s.config.InstallDir, descPath, filespec.FileRef{Hash: digest.Digest(haveHash)})
	if err != nil {
		writeChainError(w, r, err)
		return
	}
	if chain == nil {
		http.Error(w, errNotFound.Error(), http.StatusNotFound)
		return
	}

	resp := chainResponse{Steps: make([]chainStep, 0, len(chain))}
	for _, e := range chain {
		resp.Steps = append(resp.Steps, chainStep{
			Filename:   e.FileRef.Filename,
			SourceHash: string(e.SourceRef.Hash),
			TargetHash: string(e.TargetRef.Hash),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logrus.Errorf("server: encoding chain response for %s: %v", r.URL.Path, err)
	}
}

// writeChainError maps a registered errs.Code (or an *errs.Error wrapping
// one) to its HTTP status; anything else is an unclassified failure.
func writeChainError(w http.ResponseWriter, r *http.Request, err error) {
	var e *errs.Error
	if errors.As(err, &e) {
		http.Error(w, err.Error(), e.Code.HTTPStatus())
		return
	}
	var code errs.Code
	if errors.As(err, &code) {
		http.Error(w, err.Error(), code.HTTPStatus())
		return
	}
	logrus.Errorf("server: chain query failed for %s: %v", r.URL.Path, err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
