// Package lockstep runs a registered graph one global tick at a time.
//
// Three kinds of participants exchange messages through a broker:
//
//   - the Supervisor, which owns the episode and tick counters, publishes
//     actions, state resets and the tick, and gathers observations;
//   - one node Runtime per node, which waits for the inputs of a tick,
//     steps its node and publishes exactly one message per output;
//   - the bridge Runtime, which applies actuators, steps the simulator and
//     publishes the sensors of every object.
//
// Every message carries an episode and a sequence number. A consumer at
// tick k reads the message with Seq k of each of its inputs, so no two
// ticks can overlap and a message of a past episode is never consumed.
//
// A reset starts a new episode. The supervisor publishes the desired states
// and a start_reset event, then blocks until every registered unit has
// acknowledged the episode and the observations of tick 0 are complete.
// Tick 0 is the reset tick: feedthrough outputs publish the value fed into
// them instead of the computed one.
package lockstep
