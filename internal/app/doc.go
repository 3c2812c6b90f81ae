// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the lifecycle of the three commands: run a
// graph under the supervisor, validate a graph, and serve one unit of a
// graph run by a supervisor in another process.
package app
