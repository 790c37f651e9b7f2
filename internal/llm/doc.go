// Package llm contains adapters for invoking large language models. It
// abstracts away provider-specific APIs behind a single completion call so
// the intent parser can treat every backend as an untrusted text source.
package llm
