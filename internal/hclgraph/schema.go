package hclgraph

import "github.com/hashicorp/hcl/v2"

// hclFile is the top-level structure of a graph file for decoding.
type hclFile struct {
	Environment []*hclEnvironment `hcl:"environment,block"`
	Nodes       []*hclEntity      `hcl:"node,block"`
	Objects     []*hclEntity      `hcl:"object,block"`
	Connects    []*hclConnect     `hcl:"connect,block"`
	Renders     []*hclRender      `hcl:"render,block"`
}

type hclEnvironment struct {
	Namespace string `hcl:"namespace,optional"`
	Bridge    string `hcl:"bridge,optional"`
}

type hclEntity struct {
	Type   string         `hcl:"type,label"`
	Name   string         `hcl:"name,label"`
	Rate   *float64       `hcl:"rate,optional"`
	Config hcl.Expression `hcl:"config,optional"`

	Inputs       []*hclEndpoint `hcl:"input,block"`
	Outputs      []*hclEndpoint `hcl:"output,block"`
	States       []*hclEndpoint `hcl:"state,block"`
	Targets      []*hclEndpoint `hcl:"target,block"`
	Feedthroughs []*hclEndpoint `hcl:"feedthrough,block"`
	Sensors      []*hclEndpoint `hcl:"sensor,block"`
	Actuators    []*hclEndpoint `hcl:"actuator,block"`

	Bridges []*hclBridge `hcl:"bridge,block"`
}

type hclEndpoint struct {
	Name           string         `hcl:"name,label"`
	Type           hcl.Expression `hcl:"type,optional"`
	Window         *int           `hcl:"window,optional"`
	Delay          *float64       `hcl:"delay,optional"`
	StartWithMsg   bool           `hcl:"start_with_msg,optional"`
	Selected       *bool          `hcl:"selected,optional"`
	Converter      *hclConverter  `hcl:"converter,block"`
	SpaceConverter *hclConverter  `hcl:"space_converter,block"`
}

// hclConverter names a registered converter. Its attributes are the
// converter arguments.
type hclConverter struct {
	ID   string   `hcl:"id,label"`
	Args hcl.Body `hcl:",remain"`
}

type hclBridge struct {
	Name      string            `hcl:"name,label"`
	Sensors   map[string]string `hcl:"sensors,optional"`
	Actuators map[string]string `hcl:"actuators,optional"`
	States    map[string]string `hcl:"states,optional"`
}

type hclConnect struct {
	Source      string        `hcl:"source,optional"`
	Action      string        `hcl:"action,optional"`
	Target      string        `hcl:"target,optional"`
	Observation string        `hcl:"observation,optional"`
	Window      *int          `hcl:"window,optional"`
	Delay       *float64      `hcl:"delay,optional"`
	Converter   *hclConverter `hcl:"converter,block"`
}

type hclRender struct {
	Source    string        `hcl:"source"`
	Rate      float64       `hcl:"rate,optional"`
	Converter *hclConverter `hcl:"converter,block"`
}
