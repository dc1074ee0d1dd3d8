// Package gossip implements SWIM-style membership and failure detection.
// Every node keeps a table of peers with heartbeat counters and an
// ALIVE/SUSPECT/DEAD status, probes a shuffled order of peers each round
// and piggybacks recently changed records on every probe and reply.
// Heartbeats only ever move forward, so replayed, duplicated and
// reordered gossip is harmless.
package gossip
