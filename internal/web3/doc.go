// Package web3 houses read-only blockchain connectivity: the Reader
// abstraction the chain state validator consumes, chain definitions loaded
// from configs/chain.yaml, and the EVM implementation under ethereum/.
package web3
