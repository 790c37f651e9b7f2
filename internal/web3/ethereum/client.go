package ethereum

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"swappilot/internal/swap"
	"swappilot/internal/web3"
)

//go:generate mockgen -source=client.go -destination=mock/backend.go -package=mock Backend

// Backend is the subset of go-ethereum client methods used for read-only
// access. Both *ethclient.Client and the simulated backend satisfy it.
type Backend interface {
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
}

// Client implements web3.Reader for EVM compatible chains.
type Client struct {
	name      string
	rpcClient *gethrpc.Client
	backend   Backend
	mu        sync.Mutex
}

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

var erc20 = mustParseABI(erc20ABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "连接以太坊节点失败")
	}

	return &Client{
		name:      cfg.Name,
		rpcClient: rpcClient,
		backend:   ethclient.NewClient(rpcClient),
	}, nil
}

// NewClientWithBackend wraps an existing backend, typically the simulated
// backend in tests.
func NewClientWithBackend(name string, backend Backend) *Client {
	return &Client{name: name, backend: backend}
}

// Name returns the configured chain name.
func (c *Client) Name() string {
	return c.name
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// ChainID queries the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "获取链 ID 失败")
	}
	return id, nil
}

// Balance returns the owner's balance of token. Native tokens use
// eth_getBalance, everything else calls ERC20 balanceOf.
func (c *Client) Balance(ctx context.Context, owner string, token swap.Token) (*big.Int, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	ownerAddr, err := parseAddress(owner)
	if err != nil {
		return nil, err
	}
	if token.Native {
		balance, err := c.backend.BalanceAt(ctx, ownerAddr, nil)
		if err != nil {
			return nil, errors.Wrap(err, "查询原生币余额失败")
		}
		return balance, nil
	}
	tokenAddr, err := parseAddress(token.Address)
	if err != nil {
		return nil, err
	}
	return c.callUint256(ctx, tokenAddr, "balanceOf", ownerAddr)
}

// Allowance returns how much of token the spender may move for owner. Native
// tokens need no approval, so the maximum uint256 is returned.
func (c *Client) Allowance(ctx context.Context, owner, spender string, token swap.Token) (*big.Int, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	if token.Native {
		return new(big.Int).Set(abi.MaxUint256), nil
	}
	ownerAddr, err := parseAddress(owner)
	if err != nil {
		return nil, err
	}
	spenderAddr, err := parseAddress(spender)
	if err != nil {
		return nil, err
	}
	tokenAddr, err := parseAddress(token.Address)
	if err != nil {
		return nil, err
	}
	return c.callUint256(ctx, tokenAddr, "allowance", ownerAddr, spenderAddr)
}

// Decimals reads the ERC20 decimals of a contract.
func (c *Client) Decimals(ctx context.Context, tokenAddress string) (uint8, error) {
	if c == nil || c.backend == nil {
		return 0, errors.New("未初始化的以太坊客户端")
	}
	tokenAddr, err := parseAddress(tokenAddress)
	if err != nil {
		return 0, err
	}
	out, err := c.call(ctx, tokenAddr, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, errors.Errorf("decimals 返回了意外类型 %T", out[0])
	}
	return decimals, nil
}

// LatestBlock reads the latest header and the suggested gas price.
func (c *Client) LatestBlock(ctx context.Context) (web3.Block, error) {
	if c == nil || c.backend == nil {
		return web3.Block{}, errors.New("未初始化的以太坊客户端")
	}
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return web3.Block{}, errors.Wrap(err, "获取最新区块失败")
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return web3.Block{}, errors.Wrap(err, "获取 gas 价格失败")
	}
	return web3.Block{
		Number:    header.Number.Uint64(),
		GasPrice:  gasPrice,
		Timestamp: time.Unix(int64(header.Time), 0).UTC(),
	}, nil
}

func (c *Client) callUint256(ctx context.Context, contract common.Address, method string, args ...any) (*big.Int, error) {
	out, err := c.call(ctx, contract, method, args...)
	if err != nil {
		return nil, err
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("%s 返回了意外类型 %T", method, out[0])
	}
	return value, nil
}

func (c *Client) call(ctx context.Context, contract common.Address, method string, args ...any) ([]any, error) {
	data, err := erc20.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "编码 %s 调用失败", method)
	}
	raw, err := c.backend.CallContract(ctx, gethcore.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "调用合约 %s.%s 失败", contract.Hex(), method)
	}
	out, err := erc20.Unpack(method, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "解码 %s 返回值失败", method)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("%s 没有返回值", method)
	}
	return out, nil
}

func parseAddress(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, errors.Errorf("非法的地址: %q", value)
	}
	return common.HexToAddress(value), nil
}

var _ web3.Reader = (*Client)(nil)
