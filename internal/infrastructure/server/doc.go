// Package server assembles the looptrace HTTP service: store, sandbox host,
// recorder, middleware chain, REST routes, the /stream WebSocket and /metrics.
package server
