// Package ratelimit hands out permits toward external dependencies. Every
// limiter fails fast: Acquire never waits for a permit to become available.
package ratelimit
