// Package clock provides the logical time source that drives protocol
// timeouts. Every timeout in the system is measured in ticks, so a
// simulated cluster advances a shared Logical clock while a networked
// node derives ticks from wall time.
package clock
