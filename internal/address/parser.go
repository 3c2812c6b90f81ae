// internal/address/parser.go
package address

import (
	"fmt"
	"regexp"
	"strings"
)

// segmentRegex is used to validate a single path segment.
var segmentRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidName checks a single segment (entity name part, namespace or cname).
func ValidName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if name == "." || name == ".." || name == "-" {
		return fmt.Errorf("invalid name: %q", name)
	}
	if !segmentRegex.MatchString(name) {
		return fmt.Errorf("invalid name format: %q", name)
	}
	return nil
}

// ValidCName checks a component name. Reserved suffixes are refused because
// they would make derived signalling addresses ambiguous.
func ValidCName(cname string) error {
	if err := ValidName(cname); err != nil {
		return err
	}
	if IsSuffix(cname) {
		return fmt.Errorf("component name %q is reserved", cname)
	}
	return nil
}

// ValidOwner checks an entity name, which may contain slashes.
func ValidOwner(owner string) error {
	if owner == "" {
		return fmt.Errorf("owner cannot be empty")
	}
	for _, part := range strings.Split(owner, "/") {
		if err := ValidName(part); err != nil {
			return fmt.Errorf("owner %q: %w", owner, err)
		}
		if IsKind(part) || IsSuffix(part) {
			return fmt.Errorf("owner %q: segment %q is reserved", owner, part)
		}
	}
	return nil
}

// Parse creates a new Address by parsing its canonical string representation.
func Parse(raw string) (Address, error) {
	if raw == "" {
		return Address{}, fmt.Errorf("address cannot be empty")
	}

	segments := strings.Split(raw, "/")
	for _, s := range segments {
		if err := ValidName(s); err != nil {
			return Address{}, fmt.Errorf("address %q: %w", raw, err)
		}
	}

	var addr Address
	if last := segments[len(segments)-1]; IsSuffix(last) {
		addr.Suffix = Suffix(last)
		segments = segments[:len(segments)-1]
	}

	n := len(segments)
	switch {
	case n >= 4 && IsKind(segments[n-2]):
		addr.Namespace = segments[0]
		addr.Owner = strings.Join(segments[1:n-2], "/")
		addr.Kind = Kind(segments[n-2])
		addr.CName = segments[n-1]
	case addr.Suffix != NoSuffix && n >= 2:
		addr.Namespace = segments[0]
		addr.Owner = strings.Join(segments[1:], "/")
	default:
		return Address{}, fmt.Errorf("address %q does not match <namespace>/<owner>/<kind>/<cname>", raw)
	}

	if err := ValidOwner(addr.Owner); err != nil {
		return Address{}, fmt.Errorf("address %q: %w", raw, err)
	}
	return addr, nil
}

// ParseRef splits an un-namespaced endpoint reference `<owner>/<kind>/<cname>`
// as written in graph files.
func ParseRef(raw string) (owner string, kind Kind, cname string, err error) {
	segments := strings.Split(raw, "/")
	n := len(segments)
	if n < 3 || !IsKind(segments[n-2]) {
		return "", "", "", fmt.Errorf("reference %q does not match <owner>/<kind>/<cname>", raw)
	}
	owner = strings.Join(segments[:n-2], "/")
	if err := ValidOwner(owner); err != nil {
		return "", "", "", err
	}
	return owner, Kind(segments[n-2]), segments[n-1], nil
}
