// Package ring implements the consistent hashing ring that places keys on
// replica sets. Every member sits at a single position derived from its
// address, and each key is stored on the first member at or after its own
// position plus the next two around the ring.
package ring
