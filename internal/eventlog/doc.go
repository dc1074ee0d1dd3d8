// Package eventlog records the audit trail of a node: membership
// additions and removals, and the outcome of every create, read, update
// and delete at both replica and coordinator level.
package eventlog
