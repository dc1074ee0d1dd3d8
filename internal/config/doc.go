// Package config loads and validates ringkv configuration: protocol
// timeouts, simulation parameters, networked node settings and logging.
package config
