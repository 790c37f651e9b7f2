package intent

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"swappilot/internal/swap"
)

// MainnetChainID 是以太坊主网的链标识。
const MainnetChainID = "1"

// NativeAddress 是聚合器约定的原生币占位地址。
const NativeAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// Registry 定义代币符号解析接口。
type Registry interface {
	Resolve(chainID, symbol string) (swap.Token, bool)
}

// StaticRegistry 是内存中的多链代币注册表。
type StaticRegistry struct {
	mu      sync.RWMutex
	chains  map[string]map[string]swap.Token
	aliases map[string]string
}

// RegistryFile 描述代币注册表 YAML 文件结构。
type RegistryFile struct {
	Chains  map[string][]swap.Token `yaml:"chains"`
	Aliases map[string]string       `yaml:"aliases"`
}

// DefaultTokens 返回以太坊主网的内置代币列表。
func DefaultTokens() []swap.Token {
	return []swap.Token{
		{Symbol: "ETH", Address: NativeAddress, Decimals: 18, Native: true},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18, WrappedNative: true},
		{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
		{Symbol: "DAI", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
		{Symbol: "WBTC", Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Decimals: 8},
	}
}

// NewStaticRegistry 创建只包含主网默认代币的注册表。
func NewStaticRegistry() *StaticRegistry {
	r := &StaticRegistry{
		chains: make(map[string]map[string]swap.Token),
		aliases: map[string]string{
			"ETHER":    "ETH",
			"ETHEREUM": "ETH",
			"BITCOIN":  "WBTC",
			"TETHER":   "USDT",
		},
	}
	for _, token := range DefaultTokens() {
		r.Add(MainnetChainID, token)
	}
	return r
}

// LoadRegistry 在默认代币之上叠加 YAML 文件中的定义。
func LoadRegistry(path string) (*StaticRegistry, error) {
	r := NewStaticRegistry()
	if strings.TrimSpace(path) == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取代币注册表失败: %w", err)
	}
	var file RegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析代币注册表失败: %w", err)
	}
	for chainID, tokens := range file.Chains {
		for _, token := range tokens {
			if strings.TrimSpace(token.Symbol) == "" || strings.TrimSpace(token.Address) == "" {
				return nil, fmt.Errorf("链 %s 的代币定义缺少 symbol 或 address", chainID)
			}
			if token.Decimals < 0 || token.Decimals > 36 {
				return nil, fmt.Errorf("代币 %s 的精度 %d 非法", token.Symbol, token.Decimals)
			}
			r.Add(chainID, token)
		}
	}
	for alias, symbol := range file.Aliases {
		r.Alias(alias, symbol)
	}
	return r, nil
}

// Add 注册或覆盖一个代币。
func (r *StaticRegistry) Add(chainID string, token swap.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tokens, ok := r.chains[chainID]
	if !ok {
		tokens = make(map[string]swap.Token)
		r.chains[chainID] = tokens
	}
	token.Symbol = normalizeSymbol(token.Symbol)
	tokens[token.Symbol] = token
}

// Alias 为符号注册别名。
func (r *StaticRegistry) Alias(alias, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[normalizeSymbol(alias)] = normalizeSymbol(symbol)
}

// Resolve 按链和符号查找代币，大小写不敏感。
func (r *StaticRegistry) Resolve(chainID, symbol string) (swap.Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tokens, ok := r.chains[chainID]
	if !ok {
		return swap.Token{}, false
	}
	key := normalizeSymbol(symbol)
	if token, ok := tokens[key]; ok {
		return token, true
	}
	if target, ok := r.aliases[key]; ok {
		token, ok := tokens[target]
		return token, ok
	}
	return swap.Token{}, false
}

// Tokens 返回某条链上的全部代币，按符号排序。
func (r *StaticRegistry) Tokens(chainID string) []swap.Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]swap.Token, 0, len(r.chains[chainID]))
	for _, token := range r.chains[chainID] {
		out = append(out, token)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Chains 返回注册表中出现的链标识。
func (r *StaticRegistry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.chains))
	for id := range r.chains {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DecimalsReader 读取 ERC20 合约的 decimals。
type DecimalsReader interface {
	Decimals(ctx context.Context, tokenAddress string) (uint8, error)
}

// VerifyDecimals 用链上 decimals 核对某条链的注册代币，原生币跳过。
func (r *StaticRegistry) VerifyDecimals(ctx context.Context, chainID string, reader DecimalsReader) error {
	var err error
	for _, token := range r.Tokens(chainID) {
		if token.Native {
			continue
		}
		onchain, readErr := reader.Decimals(ctx, token.Address)
		if readErr != nil {
			err = multierr.Append(err, fmt.Errorf("读取 %s 的 decimals 失败: %w", token.Symbol, readErr))
			continue
		}
		if int32(onchain) != token.Decimals {
			err = multierr.Append(err, fmt.Errorf("%s 的 decimals 不一致: 注册表 %d, 链上 %d", token.Symbol, token.Decimals, onchain))
		}
	}
	return err
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

var _ Registry = (*StaticRegistry)(nil)
