package descriptor

import (
	"encoding/xml"
	"fmt"
)

// attrs is the typed accessor layer SPEC_FULL.md §4.5 calls for: a small
// wrapper over encoding/xml's generic attribute slice that keeps
// "attribute absent" distinct from "attribute present but empty". This
// distinction is load-bearing for patch_version vs last_patch_version
// (spec.md §4.4, design note in §9).
type attrs []xml.Attr

func (a attrs) get(name string) (string, bool) {
	for _, x := range a {
		if x.Name.Local == name {
			return x.Value, true
		}
	}
	return "", false
}

func (a attrs) getInt(name string) (int, bool, error) {
	v, ok := a.get(name)
	if !ok {
		return 0, false, nil
	}
	n, err := parseInt(v)
	if err != nil {
		return 0, true, err
	}
	return n, true, nil
}

// set returns a copy of a with name upserted to value.
func (a attrs) set(name, value string) attrs {
	out := make(attrs, 0, len(a)+1)
	replaced := false
	for _, x := range a {
		if x.Name.Local == name {
			out = append(out, xml.Attr{Name: x.Name, Value: value})
			replaced = true
			continue
		}
		out = append(out, x)
	}
	if !replaced {
		out = append(out, xml.Attr{Name: xml.Name{Local: name}, Value: value})
	}
	return out
}

// without returns a copy of a with name removed, if present.
func (a attrs) without(name string) attrs {
	out := make(attrs, 0, len(a))
	for _, x := range a {
		if x.Name.Local == name {
			continue
		}
		out = append(out, x)
	}
	return out
}

func parseInt(s string) (int, error) {
	n := 0
	neg := false
	for i, r := range s {
		if i == 0 && r == '-' {
			neg = true
			continue
		}
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not an integer: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}
