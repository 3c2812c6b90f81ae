// internal/address/address.go
package address

import "strings"

// Address identifies one endpoint or one owner-level signal.
type Address struct {
	Namespace string
	Owner     string
	Kind      Kind // empty for owner-level signals
	CName     string
	Suffix    Suffix
}

// New returns the endpoint address of cname in the given component kind.
func New(namespace, owner string, kind Kind, cname string) Address {
	return Address{Namespace: namespace, Owner: owner, Kind: kind, CName: cname}
}

// Signal returns an owner-level signalling address such as
// `<ns>/<owner>/initialized`.
func Signal(namespace, owner string, s Suffix) Address {
	return Address{Namespace: namespace, Owner: owner, Suffix: s}
}

// IsEndpoint reports whether the address names a component endpoint rather
// than an owner-level signal.
func (a Address) IsEndpoint() bool {
	return a.Kind != ""
}

// With returns a copy of a carrying the given suffix.
func (a Address) With(s Suffix) Address {
	a.Suffix = s
	return a
}

// Base strips any suffix.
func (a Address) Base() Address {
	a.Suffix = NoSuffix
	return a
}

// Relative formats the address without its namespace, as stored in
// compiled parameter bundles before a namespace is chosen.
func (a Address) Relative() string {
	parts := make([]string, 0, 4)
	parts = append(parts, a.Owner)
	if a.IsEndpoint() {
		parts = append(parts, string(a.Kind), a.CName)
	}
	if a.Suffix != NoSuffix {
		parts = append(parts, string(a.Suffix))
	}
	return strings.Join(parts, "/")
}

// String serializes the Address into its canonical string representation.
func (a Address) String() string {
	if a.Namespace == "" {
		return a.Relative()
	}
	return a.Namespace + "/" + a.Relative()
}

// Equal checks for equality between two addresses.
func (a Address) Equal(other Address) bool {
	return a == other
}
