// Package repair implements stabilization: after the ring changes, keys
// held locally are pushed to members that newly became replicas, and keys
// this node no longer replicates are scheduled for delayed deletion.
//
// Stabilization is best effort. It moves data one hop at a time and does
// not reconcile writes that race with a handoff.
package repair
