// Package spec holds the typed parameter trees of graph entities.
//
// An Entity is either a node (inputs, outputs, states, targets,
// feedthroughs) or an object (sensors, actuators, states plus per-bridge
// implementations). Entities are built with NewNode/NewObject builders and
// checked against a small schema before they enter a graph.
package spec
