// Package agent contains the swap orchestrator: a linear state machine that
// runs retrieval, intent parsing, quoting and chain validation under
// per-stage timeouts, retries and rate limits, and always produces exactly
// one terminal response per request.
package agent
