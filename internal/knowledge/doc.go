// Package knowledge retrieves reference material that grounds intent
// parsing. Backends implement Searcher; the Retriever ranks their hits and
// hands the pipeline a bounded, single-pass stream of context snippets.
package knowledge
