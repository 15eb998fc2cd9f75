// Package permissions is the vocabulary used to grant or deny capabilities to an
// application: filesystem and network resources, requests for them and the
// outcome of a request.
package permissions

import (
	"cmp"
	"fmt"
	"net/netip"
	"path"
	"slices"
	"strings"
)

// Mode is the access a Resource describes. The declaration order is the
// primary sort key of Resource.
type Mode uint8

const (
	Read Mode = iota
	Write
	Execute
	ReadWrite
	WriteExecute
	ReadExecute
	ReadWriteExecute
	Network
)

var modePrefixes = [...]string{
	Read:             "r",
	Write:            "w",
	Execute:          "x",
	ReadWrite:        "rw",
	WriteExecute:     "wx",
	ReadExecute:      "rx",
	ReadWriteExecute: "rwx",
	Network:          "n",
}

func (m Mode) String() string {
	if int(m) < len(modePrefixes) {
		return modePrefixes[m]
	}
	return fmt.Sprintf("mode(%d)", m)
}

func (m Mode) valid() bool { return m <= Network }

func (m Mode) reads() bool {
	return m == Read || m == ReadWrite || m == ReadExecute || m == ReadWriteExecute
}

func (m Mode) writes() bool {
	return m == Write || m == ReadWrite || m == WriteExecute || m == ReadWriteExecute
}

func (m Mode) executes() bool {
	return m == Execute || m == WriteExecute || m == ReadExecute || m == ReadWriteExecute
}

// Resource is a filesystem path tagged with an access mode, or a network range.
// The zero value is not a valid resource. Resource values are comparable and
// can be used as map keys.
type Resource struct {
	mode   Mode
	path   string
	prefix netip.Prefix
}

// pathResource stores p lexically cleaned so ".." never survives into a
// resource. Relative paths are kept but cover and are covered by nothing.
func pathResource(m Mode, p string) Resource {
	if p != "" {
		p = path.Clean(p)
	}
	return Resource{mode: m, path: p}
}

func ReadPath(p string) Resource             { return pathResource(Read, p) }
func WritePath(p string) Resource            { return pathResource(Write, p) }
func ExecutePath(p string) Resource          { return pathResource(Execute, p) }
func ReadWritePath(p string) Resource        { return pathResource(ReadWrite, p) }
func WriteExecutePath(p string) Resource     { return pathResource(WriteExecute, p) }
func ReadExecutePath(p string) Resource      { return pathResource(ReadExecute, p) }
func ReadWriteExecutePath(p string) Resource { return pathResource(ReadWriteExecute, p) }

// NetworkRange is a resource over an IP range. The prefix is masked.
func NetworkRange(prefix netip.Prefix) Resource {
	return Resource{mode: Network, prefix: prefix.Masked()}
}

// NewPathResource builds a path resource for any mode other than Network.
// The path must be absolute.
func NewPathResource(m Mode, p string) (Resource, error) {
	if !m.valid() || m == Network {
		return Resource{}, fmt.Errorf("mode %s does not take a path", m)
	}
	if p == "" {
		return Resource{}, fmt.Errorf("empty path for %s resource", m)
	}
	if !path.IsAbs(p) {
		return Resource{}, fmt.Errorf("%s resource path %q is not absolute", m, p)
	}
	return pathResource(m, p), nil
}

// ParseResource is the inverse of Resource.String: "rw-/srv/data", "n-10.0.0.0/8".
func ParseResource(s string) (Resource, error) {
	tag, value, ok := strings.Cut(s, "-")
	if !ok || value == "" {
		return Resource{}, fmt.Errorf("malformed resource %q", s)
	}
	for m, p := range modePrefixes {
		if p != tag {
			continue
		}
		if Mode(m) == Network {
			prefix, err := netip.ParsePrefix(value)
			if err != nil {
				return Resource{}, fmt.Errorf("parse network resource %q: %w", s, err)
			}
			return NetworkRange(prefix), nil
		}
		r, err := NewPathResource(Mode(m), value)
		if err != nil {
			return Resource{}, fmt.Errorf("parse resource %q: %w", s, err)
		}
		return r, nil
	}
	return Resource{}, fmt.Errorf("unknown resource mode %q in %q", tag, s)
}

// MustParseResource is ParseResource for literals; it panics on error.
func MustParseResource(s string) Resource {
	r, err := ParseResource(s)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Resource) Mode() Mode           { return r.mode }
func (r Resource) Path() string         { return r.path }
func (r Resource) Prefix() netip.Prefix { return r.prefix }
func (r Resource) IsNetwork() bool      { return r.mode == Network }
func (r Resource) IsZero() bool         { return r == Resource{} }
func (r Resource) AllowsRead() bool     { return r.mode.reads() }
func (r Resource) AllowsWrite() bool    { return r.mode.writes() }
func (r Resource) AllowsExecute() bool  { return r.mode.executes() }

func (r Resource) String() string {
	if r.mode == Network {
		return "n-" + r.prefix.String()
	}
	return r.mode.String() + "-" + r.path
}

// Compare orders resources by mode, then path, then network address and
// prefix length. It is a total order consistent with ==.
func (r Resource) Compare(other Resource) int {
	if c := cmp.Compare(r.mode, other.mode); c != 0 {
		return c
	}
	if c := strings.Compare(r.path, other.path); c != 0 {
		return c
	}
	if c := r.prefix.Addr().Compare(other.prefix.Addr()); c != 0 {
		return c
	}
	return cmp.Compare(r.prefix.Bits(), other.prefix.Bits())
}

// Covers reports whether holding r is enough to satisfy a request for other:
// every access bit of other is present in r and other lies inside r, either
// below r's path or inside r's network range.
func (r Resource) Covers(other Resource) bool {
	if r.IsNetwork() != other.IsNetwork() {
		return false
	}
	if r.IsNetwork() {
		return r.prefix.Bits() <= other.prefix.Bits() && r.prefix.Contains(other.prefix.Addr())
	}
	if other.AllowsRead() && !r.AllowsRead() ||
		other.AllowsWrite() && !r.AllowsWrite() ||
		other.AllowsExecute() && !r.AllowsExecute() {
		return false
	}
	return underPath(r.path, other.path)
}

func underPath(root, p string) bool {
	if !path.IsAbs(root) || !path.IsAbs(p) {
		return false
	}
	if root == p || root == "/" {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(root, "/")+"/")
}

func (r Resource) MarshalText() ([]byte, error) {
	if r.IsZero() {
		return nil, fmt.Errorf("marshal empty resource")
	}
	return []byte(r.String()), nil
}

func (r *Resource) UnmarshalText(b []byte) error {
	parsed, err := ParseResource(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// SortResources sorts in place by Compare.
func SortResources(rs []Resource) {
	slices.SortFunc(rs, Resource.Compare)
}

// Dedup returns the sorted set of distinct resources in rs.
func Dedup(rs []Resource) []Resource {
	out := slices.Clone(rs)
	SortResources(out)
	return slices.Compact(out)
}
