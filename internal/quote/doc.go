// Package quote obtains executable swap routes from a DEX aggregator and
// ranks them best-first by expected output net of gas.
package quote
