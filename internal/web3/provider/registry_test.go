package provider

import (
	"context"
	"testing"

	"swappilot/internal/config"
	"swappilot/internal/web3"
)

func TestStaticRegistryDefaults(t *testing.T) {
	registry, err := NewStaticRegistry("", web3.Chain{Name: "polygon", ID: "137"}, web3.Chain{Name: "mainnet", ID: "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if registry.DefaultChain() != "1" {
		t.Fatalf("expected lowest id as default, got %s", registry.DefaultChain())
	}
	chain, ok := registry.Chain("")
	if !ok || chain.Name != "mainnet" {
		t.Fatalf("expected default chain, got %+v", chain)
	}
	if chain.Spender != web3.DefaultSpender {
		t.Fatalf("expected default spender, got %s", chain.Spender)
	}
	if _, ok := registry.Chain("56"); ok {
		t.Fatal("unexpected chain 56")
	}
}

func TestStaticRegistryUnknownDefault(t *testing.T) {
	if _, err := NewStaticRegistry("10", web3.Chain{ID: "1"}); err == nil {
		t.Fatal("expected error for missing default chain")
	}
	if _, err := NewStaticRegistry(""); err == nil {
		t.Fatal("expected error for empty registry")
	}
}

func TestNewRegistryRequiresEndpoint(t *testing.T) {
	if _, err := NewRegistry(context.Background(), config.Web3Config{}); err == nil {
		t.Fatal("expected error without rpc endpoints")
	}
}

func TestNewRegistryFromRPCURL(t *testing.T) {
	registry, err := NewRegistry(context.Background(), config.Web3Config{RPCURL: "http://127.0.0.1:8545", DefaultChain: "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer registry.Close()

	chain, ok := registry.Chain("1")
	if !ok || chain.Reader == nil {
		t.Fatalf("expected reader for chain 1, got %+v", chain)
	}
}
