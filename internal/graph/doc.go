// Package graph holds the mutable specification of a lock-step environment:
// the nodes and objects taking part in it, the connections between their
// endpoints and the synthetic boundary entities through which actions enter
// and observations leave.
//
// # State
//
// A Graph stores, per entity, two trees: the current parameters and the
// defaults captured when the entity was added. Disconnecting an endpoint
// restores its defaults. Two synthetic entities always exist:
//
//	env/actions       outputs are the actions fed in by the environment user
//	env/observations  inputs are the observations handed back every step
//
// A third synthetic entity, env/render, is created by Render. None of them
// can be renamed, and only env/render can be removed.
//
// # Atomic operations
//
// Every mutating operation runs against a copy of the state and only
// replaces the live state when it returns without error. A failed Connect
// therefore leaves the graph exactly as it was.
//
// # Validation and registration
//
// Validate checks, in order: the type chain of every connection, that every
// selected input, target and feedthrough is connected, that the episode graph
// has no algebraic loop, that neither the episode graph nor (when
// feedthroughs exist) the reset graph has stale vertices, and that one bridge
// implements every object. Register runs Validate, resolves addresses under
// a namespace and emits one Bundle per entity. Nothing is emitted when any
// check fails.
package graph
