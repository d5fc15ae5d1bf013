// Package coord defines the coordinates that identify a package family
// within an install tree.
package coord

import "fmt"

// HostNone is the sentinel host value every patch in the current design is
// pinned to. Multi-host federation is a declared open question (see
// SPEC_FULL.md §9); until it is specified, any other value is rejected.
const HostNone = "none"

// Coord identifies a package family: a name on a platform at a version,
// scoped to a host (currently always HostNone).
type Coord struct {
	Name     string
	Platform string
	Version  string
	HostURL  string
}

// New returns a Coord pinned to the sentinel host.
func New(name, platform, version string) Coord {
	return Coord{Name: name, Platform: platform, Version: version, HostURL: HostNone}
}

// Validate rejects any host other than the sentinel, per the single-host
// design pinned in spec.md §3.
func (c Coord) Validate() error {
	if c.HostURL == "" {
		return nil // treated as the sentinel by callers that haven't set it yet
	}
	if c.HostURL != HostNone {
		return fmt.Errorf("coord: cross-host patching is not supported (host %q)", c.HostURL)
	}
	return nil
}

func (c Coord) String() string {
	return fmt.Sprintf("%s/%s@%s", c.Name, c.Platform, c.Version)
}
