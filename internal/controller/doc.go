// Package controller owns the authoritative roster of a simulation.
//
// Ownership boundary:
//   - validating the roster before any node runs and before every mutation
//   - creating node channels and spawning one goroutine per node
//   - fanning node events in, delivering shortcut packets, recording metrics
//   - the admin HTTP surface (health, metrics, topology, recent events)
//
// Nodes never share memory with the controller; everything crosses a
// channel.
package controller
