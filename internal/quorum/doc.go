// Package quorum tracks in-flight replicated requests and decides their
// outcome. A coordinator registers each request with the replicas it was
// sent to, feeds in replies as they arrive, and polls Resolve once per
// tick. Nothing here blocks: expiry is noticed on the next poll.
package quorum
