package broker

import (
	"errors"

	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/zclconf/go-cty/cty"
)

var (
	// ErrDuplicateAddress is returned when an address is registered twice.
	ErrDuplicateAddress = errors.New("duplicate address")
	// ErrAlreadyConnected flags an attempt to wire an address that is
	// already wired. It always indicates a bug.
	ErrAlreadyConnected = errors.New("address already connected")
	// ErrUnknownAddress is returned when publishing on an address that no
	// output of this broker registered.
	ErrUnknownAddress = errors.New("unknown output address")
)

// Status is the wiring bucket of an input address.
type Status string

const (
	Disconnected       Status = "disconnected"
	ConnectedLocal     Status = "connected-local"
	ConnectedTransport Status = "connected-transport"
)

// Statuses lists the buckets in display order.
var Statuses = []Status{Disconnected, ConnectedLocal, ConnectedTransport}

// Role tells what an address is used for. It only matters for duplicate
// detection and diagnostics.
type Role string

const (
	RoleInputs       Role = "inputs"
	RoleFeedthroughs Role = "feedthroughs"
	RoleTargets      Role = "targets"
	RoleStateInputs  Role = "state_inputs"
	RoleNodeInputs   Role = "node_inputs"

	RoleOutputs      Role = "outputs"
	RoleStateOutputs Role = "state_outputs"
	RoleNodeOutputs  Role = "node_outputs"
)

// Input subscribes its owner to an address.
type Input struct {
	Role    Role
	Address string
	// Type is the wire type carried by the address.
	Type cty.Type
	// Converter maps wire values to the type the owner declared. Nil
	// passes values through.
	Converter msgtype.Converter
	// Deliver receives every message. It must not block.
	Deliver func(node.Message)
}

// Output is an address its owner publishes on.
type Output struct {
	Role    Role
	Address string
	// Type is the wire type carried by the address.
	Type cty.Type
	// Converter maps the owner's values to the wire type. Nil passes values
	// through.
	Converter msgtype.Converter
}

// IO is one batch of registrations.
type IO struct {
	Inputs  []Input
	Outputs []Output
}

// Entry describes one registered address for status reports.
type Entry struct {
	Owner   string
	Role    Role
	Address string
	MsgType string
	// Status is empty for outputs.
	Status Status
	// Source is the owner of the local output an input is wired to.
	Source string
}
