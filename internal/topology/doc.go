// Package topology is the dependency analysis layer of the graph validator.
// It holds a directed multigraph whose vertices are nodes (or per-object
// sensor/actuator groups) and whose edges are connections, and answers the
// two questions that decide whether a lock-step run can make progress: is
// there an algebraic loop, and is every vertex kept active each tick.
package topology
