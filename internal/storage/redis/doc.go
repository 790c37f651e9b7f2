// Package redis builds the shared go-redis client used by the swap job queue
// and the distributed rate limiter.
package redis
