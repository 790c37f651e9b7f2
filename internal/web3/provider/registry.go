package provider

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"swappilot/internal/config"
	"swappilot/internal/web3"
	"swappilot/internal/web3/ethereum"
)

// Registry manages the configured chains keyed by chain id.
type Registry struct {
	defaultChain string
	chains       map[string]web3.Chain
	closers      []func()
}

// NewRegistry loads chain definitions and instantiates concrete readers.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	r := &Registry{chains: make(map[string]web3.Chain, len(defs))}
	for _, def := range defs {
		client, err := ethereum.NewClient(ctx, ethereum.Config{Name: def.Name, RPCURL: def.RPCURL})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", def.Name, err)
		}
		r.closers = append(r.closers, client.Close)
		r.chains[def.ChainID] = web3.Chain{Name: def.Name, ID: def.ChainID, Spender: def.Spender, Reader: client}
	}

	if len(r.chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := ethereum.NewClient(ctx, ethereum.Config{Name: "default", RPCURL: cfg.RPCURL})
		if err != nil {
			return nil, err
		}
		id := cfg.DefaultChain
		if id == "" {
			id = "1"
		}
		spender := cfg.Spender
		if spender == "" {
			spender = web3.DefaultSpender
		}
		r.closers = append(r.closers, client.Close)
		r.chains[id] = web3.Chain{Name: "default", ID: id, Spender: spender, Reader: client}
	}

	if len(r.chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}
	if err := r.setDefault(cfg.DefaultChain); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// NewStaticRegistry builds a registry from already constructed chains.
func NewStaticRegistry(defaultChain string, chains ...web3.Chain) (*Registry, error) {
	r := &Registry{chains: make(map[string]web3.Chain, len(chains))}
	for _, chain := range chains {
		if chain.Spender == "" {
			chain.Spender = web3.DefaultSpender
		}
		r.chains[chain.ID] = chain
	}
	if len(r.chains) == 0 {
		return nil, errors.New("未配置任何链")
	}
	if err := r.setDefault(defaultChain); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) setDefault(id string) error {
	if id == "" {
		id = r.Chains()[0]
	}
	if _, ok := r.chains[id]; !ok {
		return fmt.Errorf("默认链 %s 未在配置中找到", id)
	}
	r.defaultChain = id
	return nil
}

// DefaultChain returns the id of the default chain.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Chain returns the chain identified by id. An empty id selects the default.
func (r *Registry) Chain(id string) (web3.Chain, bool) {
	if r == nil {
		return web3.Chain{}, false
	}
	if id == "" {
		id = r.defaultChain
	}
	chain, ok := r.chains[id]
	return chain, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for _, closeFn := range r.closers {
		closeFn()
	}
	r.closers = nil
}

// Chains returns the registered chain ids in sorted order.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.chains))
}

var _ web3.ChainResolver = (*Registry)(nil)
