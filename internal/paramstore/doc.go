// Package paramstore holds the parameters of every registered node under its
// address, so that a runtime started in another process can bootstrap from
// them.
//
// Values are JSON documents. Two stores exist: Memory for a single process
// and Redis for runtimes spread over several machines. GetWithBlocking polls
// a store until a key appears, the way runtimes wait for the supervisor to
// upload their parameters.
package paramstore
