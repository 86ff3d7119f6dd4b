// Package fragment turns messages into fixed-capacity fragments and back.
//
// Ownership boundary:
//   - splitting encoded messages into routed packets
//   - index-addressed reassembly, tolerant of any arrival order
//   - session bookkeeping keyed by (session id, source node)
//
// Stale sessions are never evicted automatically; callers decide when a
// session is abandoned.
package fragment
