// Package broker resolves the addresses a process registers to either a
// direct in-process hand-off or a transport subscription.
//
// Each owner's input addresses live in exactly one of three buckets:
// disconnected, connected-local or connected-transport. Register puts them
// in the first; Connect moves every disconnected address into one of the
// others and never touches an address twice. All state sits behind one
// mutex, and a condition variable is broadcast on every bucket change so
// callers can wait for an owner to become fully wired.
//
// The broker only holds owner names and address strings; it never holds
// references to the nodes themselves. Inputs hand messages to their owner
// through the Deliver callback given at registration.
package broker
