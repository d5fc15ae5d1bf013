// Package events defines the domain events a patch-authoring session
// emits as it works, and a small asynchronous fan-out queue to a
// github.com/docker/go-events sink, adapted from the teacher's
// notifications package (which reports registry push/pull activity; this
// reports patch-graph activity instead).
package events

import (
	"errors"
	"time"

	"github.com/packagepatch/patchmaker/coord"
)

// ErrSinkClosed is returned by Queue.Write after Close.
var ErrSinkClosed = errors.New("events: sink is closed")

// Action names one kind of thing that happened during a session.
type Action string

const (
	// ActionBootstrap: a package's base/top was synthesized on first
	// publication.
	ActionBootstrap Action = "bootstrap"
	// ActionPatchAuthored: a new PatchEdge was built between a package's
	// prior top and its new current.
	ActionPatchAuthored Action = "patch_authored"
	// ActionDescriptorRewritten: a package descriptor was rewritten to
	// disk.
	ActionDescriptorRewritten Action = "descriptor_rewritten"
	// ActionManifestSaved: contents.xml was rewritten.
	ActionManifestSaved Action = "manifest_saved"
)

// Event is one occurrence during BuildPatches, suitable for forwarding to
// an operator-configured sink (a log line, a webhook, a metrics counter).
type Event struct {
	Action    Action
	Coord     coord.Coord
	Detail    string
	Timestamp time.Time
}
