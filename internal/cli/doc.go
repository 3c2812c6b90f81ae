// Package cli turns the command line into an app.Config. It knows the
// commands (run, validate, node, relay), reads flag defaults from the environment
// and maps usage mistakes to an ExitError with exit code 2.
package cli
