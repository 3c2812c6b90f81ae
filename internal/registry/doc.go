// Package registry provides the central "glue" for the module system.
//
// The Registry stores the node kinds and bridges compiled into the binary,
// keyed by the type names used in graph definitions. Each node kind
// declares its inputs, outputs, states and targets as data; during graph
// compilation the registry checks that every entity's declared endpoints
// match the Go implementation, so a mismatch between a graph file and the
// code fails at registration rather than mid-episode.
package registry
