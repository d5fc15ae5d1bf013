// Package errs assigns a stable, registered identity to the error kinds the
// patch graph core can surface, in the same spirit as a registry's API error
// codes: each kind carries an HTTP status (for the query server) and a
// human description, rather than being an ad hoc error string.
package errs

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// Code is a unique, process-local identifier for a registered error kind.
type Code int

// Descriptor documents one error kind.
type Descriptor struct {
	// Value is the all-caps string identity of the error, e.g. "MISSING_SOURCE".
	Value string

	// Message is a short, terse summary suitable for logs.
	Message string

	// Description is a longer explanation of when this error occurs.
	Description string

	// HTTPStatusCode is the status the query server reports for this kind.
	HTTPStatusCode int
}

var (
	mu           sync.Mutex
	codeToDesc   = map[Code]Descriptor{}
	valueToCode  = map[string]Code{}
	nextCode     Code
)

func register(d Descriptor) Code {
	mu.Lock()
	defer mu.Unlock()

	nextCode++
	c := nextCode
	codeToDesc[c] = d
	valueToCode[d.Value] = c
	return c
}

// Descriptor returns the registered descriptor for c.
func (c Code) Descriptor() Descriptor {
	mu.Lock()
	defer mu.Unlock()
	return codeToDesc[c]
}

func (c Code) String() string {
	return c.Descriptor().Value
}

// Error implements error, satisfying callers that want a plain Go error
// without details attached.
func (c Code) Error() string {
	return c.Descriptor().Message
}

// HTTPStatus returns the status code the query server should report.
func (c Code) HTTPStatus() int {
	status := c.Descriptor().HTTPStatusCode
	if status == 0 {
		return http.StatusInternalServerError
	}
	return status
}

// WithDetail attaches situational detail (a file path, package name, etc.)
// to a registered Code, producing a concrete error.
func (c Code) WithDetail(detail interface{}) error {
	return &Error{Code: c, Detail: detail}
}

// Error pairs a registered Code with situational detail.
type Error struct {
	Code   Code
	Detail interface{}
}

func (e *Error) Error() string {
	d := e.Code.Descriptor()
	if e.Detail == nil {
		return d.Message
	}
	return fmt.Sprintf("%s: %v", d.Message, e.Detail)
}

// Unwrap lets callers test with errors.Is/errors.As against the Code.
func (e *Error) Unwrap() error {
	return e.Code
}

// All of the error kinds the patch graph core can surface. See spec.md §7
// and SPEC_FULL.md §7 for the contract each of these belongs to.
var (
	// ManifestUnreadable: contents.xml missing or malformed. Fatal to the
	// session; buildPatches returns failure without side effects.
	ManifestUnreadable = register(Descriptor{
		Value:          "MANIFEST_UNREADABLE",
		Message:        "contents manifest could not be read",
		Description:    "The install tree's contents.xml is missing or failed to parse.",
		HTTPStatusCode: http.StatusNotFound,
	})

	// DescriptorUnreadable: a package descriptor failed to parse. The
	// package is skipped during a full build; a query returns a nil chain
	// together with this error.
	DescriptorUnreadable = register(Descriptor{
		Value:          "DESCRIPTOR_UNREADABLE",
		Message:        "package descriptor could not be read",
		Description:    "A package's <name>.xml descriptor is missing or failed to parse.",
		HTTPStatusCode: http.StatusNotFound,
	})

	// MissingSource: a requested materialization cannot find any anchored
	// file reachable in the graph.
	MissingSource = register(Descriptor{
		Value:          "MISSING_SOURCE",
		Message:        "no anchored source file reachable for this version",
		Description:    "materialize() found no path from any anchor (base or current) to the requested version.",
		HTTPStatusCode: http.StatusNotFound,
	})

	// DeltaBuildFailure: the delta oracle failed to build a patch during
	// edge authoring. Fatal to the session.
	DeltaBuildFailure = register(Descriptor{
		Value:          "DELTA_BUILD_FAILURE",
		Message:        "binary delta build failed",
		Description:    "The delta-build oracle reported failure while authoring a new patch edge.",
		HTTPStatusCode: http.StatusInternalServerError,
	})

	// CompressFailure: the stream compressor failed while producing a .pz
	// artifact. Fatal to the session.
	CompressFailure = register(Descriptor{
		Value:          "COMPRESS_FAILURE",
		Message:        "compression of patch artifact failed",
		Description:    "The stream compressor could not produce the .pz wrapping for a new patch artifact.",
		HTTPStatusCode: http.StatusInternalServerError,
	})

	// ApplyFailure: the delta apply oracle failed during materialization.
	ApplyFailure = register(Descriptor{
		Value:          "APPLY_FAILURE",
		Message:        "patch apply failed",
		Description:    "The delta-apply oracle could not reconstruct the target archive from the source plus patch.",
		HTTPStatusCode: http.StatusInternalServerError,
	})

	// UnknownPackage: processSome was called with a name absent after
	// readContents. Non-fatal; reported to the operator.
	UnknownPackage = register(Descriptor{
		Value:          "UNKNOWN_PACKAGE",
		Message:        "requested package name is not present in the install tree",
		Description:    "A package name passed to processSome did not match any package loaded from the contents manifest.",
		HTTPStatusCode: http.StatusBadRequest,
	})
)

// Codes returns all registered codes sorted by their string value, mainly
// for documentation generation and tests.
func Codes() []Code {
	mu.Lock()
	defer mu.Unlock()

	out := make([]Code, 0, len(codeToDesc))
	for c := range codeToDesc {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
