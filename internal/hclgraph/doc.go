// Package hclgraph loads graph definitions written in HCL.
//
// A definition is a directory of .hcl files (or a single file). Blocks from
// all files are merged before the graph is built:
//
//	environment {
//	  namespace = "exp"
//	  bridge    = "toy"
//	}
//
//	node "gain" "B" {
//	  rate   = 10
//	  config = { gain = 2 }
//	  input "in" { type = number }
//	  output "out" {
//	    type = number
//	    space_converter "identity" {}
//	  }
//	}
//
//	object "pointmass" "m1" {
//	  sensor "pos" { type = number }
//	  actuator "force" { type = number }
//	  bridge "toy" {
//	    sensors   = { pos = "pos_sensor" }
//	    actuators = { force = "force_actuator" }
//	  }
//	}
//
//	connect {
//	  source = "B/outputs/out"
//	  target = "m1/actuators/force"
//	  converter "scale" { factor = 0.5 }
//	}
//
// A node without any endpoint block takes the endpoints its kind declares
// in the registry. Message types are written as type expressions, bare
// (`list(number)`) or quoted.
package hclgraph
