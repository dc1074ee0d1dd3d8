// Package node implements a key-value node. A Node combines the replica
// side (ownership-checked CRUD on the local store), the coordinator side
// (fan-out to a key's three replicas and quorum resolution) and
// stabilization after ring changes. It is driven by Tick, like the
// membership layer underneath it.
//
// Runner drives a Node and its Membership from a wall clock for networked
// deployments and serializes client operations onto the tick loop.
package node
