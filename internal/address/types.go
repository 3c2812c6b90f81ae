// internal/address/types.go
package address

// Kind is the component kind segment of an address.
type Kind string

const (
	Inputs       Kind = "inputs"
	Outputs      Kind = "outputs"
	States       Kind = "states"
	Targets      Kind = "targets"
	Feedthroughs Kind = "feedthroughs"
	Sensors      Kind = "sensors"
	Actuators    Kind = "actuators"
)

// Kinds lists every component kind in a stable order.
var Kinds = []Kind{Inputs, Outputs, States, Targets, Feedthroughs, Sensors, Actuators}

// IsKind reports whether s names a component kind.
func IsKind(s string) bool {
	for _, k := range Kinds {
		if string(k) == s {
			return true
		}
	}
	return false
}

// Suffix is a reserved signalling suffix.
type Suffix string

const (
	NoSuffix    Suffix = ""
	Reset       Suffix = "reset"
	Set         Suffix = "set"
	Done        Suffix = "done"
	Initialized Suffix = "initialized"
)

// IsSuffix reports whether s is one of the reserved suffixes.
func IsSuffix(s string) bool {
	switch Suffix(s) {
	case Reset, Set, Done, Initialized:
		return true
	}
	return false
}

// Fixed synthetic owner names.
const (
	Actions      = "env/actions"
	Observations = "env/observations"
	Supervisor   = "env/supervisor"
	Render       = "env/render"
	Bridge       = "env/bridge"
)

// IsFixed reports whether name is one of the synthetic owners that can
// never be renamed or removed.
func IsFixed(name string) bool {
	switch name {
	case Actions, Observations, Supervisor, Render, Bridge:
		return true
	}
	return false
}
