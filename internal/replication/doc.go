// Package replication defines the key-value protocol spoken between a
// coordinator and the replicas of a key: the request and reply messages,
// the replica roles, and their text encoding.
package replication
