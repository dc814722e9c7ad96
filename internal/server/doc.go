// Package server implements the daemon's transports: a Unix domain
// socket speaking newline-delimited JSON commands, and an HTTP API with
// voice command endpoints, file transcription uploads, health checks
// and Prometheus metrics.
package server
