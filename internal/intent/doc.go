// Package intent turns free text into a validated swap intent. The language
// model is treated as an untrusted text source: its output is extracted,
// resolved against the token registry and re-validated deterministically.
package intent
