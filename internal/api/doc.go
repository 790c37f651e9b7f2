// Package api exposes the HTTP surface of the swap pipeline: synchronous
// swap-path requests, asynchronous swap jobs, wallet history, health and
// Prometheus metrics.
package api
