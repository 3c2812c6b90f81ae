// internal/address/doc.go

/*
Package address provides a structured, type-safe representation for the
routing keys used between nodes, based on the canonical format
`<namespace>/<owner>/<kind>/<cname>`.

The owner may itself contain slashes (the synthetic owners live under
`env/`, e.g. `env/actions`). Signalling channels are derived by appending one
of the reserved suffixes `/reset`, `/set`, `/done` or `/initialized`, either
to an endpoint address or directly to an owner (`<namespace>/<owner>/reset`).

This package enforces the address schema and centralizes all formatting and
parsing logic so that the graph compiler, the broker and the runtimes agree
on every key.
*/
package address
