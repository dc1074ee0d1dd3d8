// Package storage provides the local key-value map held by each replica.
// It enforces the create/update/delete preconditions; ownership checks
// belong to the caller.
package storage
