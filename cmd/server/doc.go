// Package main is the entry point for the looptrace HTTP server.
//
// The server runs scripts in an instrumented sandbox and reports which
// scheduling queue each observed call landed in.
//
// Routes:
//   - POST /run, POST /reset, GET /result, GET /status
//   - GET/PUT/DELETE /source for the persisted editor text
//   - GET /stream for the WebSocket protocol
//   - GET /metrics for Prometheus
//
// Configuration comes from the environment (an optional .env is loaded
// first). See internal/infrastructure/config for the variables.
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
