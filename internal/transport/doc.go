// Package transport carries encoded protocol messages between nodes.
// Delivery is fire-and-forget: messages may be dropped, duplicated or
// reordered, and receivers drain their inbox without blocking. Network
// simulates this in memory for many nodes in one process; Hub does the
// same over gRPC for one node per process.
package transport
