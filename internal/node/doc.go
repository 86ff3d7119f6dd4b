// Package node defines the actor contract shared by every node role.
//
// Ownership boundary:
//   - the closed command (controller -> node) and event (node -> controller) sets
//   - the actor loop, the neighbour links and the outbound queues each node owns
//   - host plumbing shared by clients and servers: routing, reassembly,
//     acknowledgement tracking and retransmission
//
// Commands are fire and forget. Completion is always a separate event.
package node
