// Package sim runs a whole ringkv cluster inside one process. Nodes share
// a logical clock and talk over two simulated lossy networks, one for
// membership and one for the key-value protocol. A run staggers joins,
// drives a random CRUD workload, optionally fails nodes at a given tick
// and reports membership agreement and quorum outcomes.
package sim
