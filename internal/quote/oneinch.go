package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	xerrors "swappilot/internal/errors"
	"swappilot/internal/swap"
)

const (
	defaultOneInchBaseURL = "https://api.1inch.dev"
	defaultOneInchTimeout = 10 * time.Second
	maxParallelProtocols  = 4
)

// OneInchConfig 描述 1inch swap API 的调用参数。
type OneInchConfig struct {
	BaseURL   string
	APIKey    string
	Protocols []string
	Timeout   time.Duration
}

// OneInch 调用 1inch v5.2 quote 接口获取路由。
type OneInch struct {
	baseURL    string
	apiKey     string
	protocols  []string
	httpClient *http.Client
}

// NewOneInch 创建 1inch 报价源。
func NewOneInch(cfg OneInchConfig) (*OneInch, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 1inch API Key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOneInchBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOneInchTimeout
	}
	protocols := make([]string, 0, len(cfg.Protocols))
	for _, p := range cfg.Protocols {
		if p = strings.TrimSpace(p); p != "" {
			protocols = append(protocols, p)
		}
	}
	return &OneInch{
		baseURL:    baseURL,
		apiKey:     apiKey,
		protocols:  protocols,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type oneInchQuote struct {
	ToAmount      string           `json:"toAmount"`
	ToTokenAmount string           `json:"toTokenAmount"`
	Gas           uint64           `json:"gas"`
	EstimatedGas  uint64           `json:"estimatedGas"`
	PriceImpact   json.Number      `json:"priceImpact"`
	Protocols     [][][]oneInchHop `json:"protocols"`
}

type oneInchHop struct {
	Name string  `json:"name"`
	Part float64 `json:"part"`
}

// Routes 查询路由；配置了协议列表时按协议并发查询。
// 模型给出的 DEX 偏好命中已配置协议时只查询这些协议，查询无路由时回退到全部协议。
func (o *OneInch) Routes(ctx context.Context, q Query) ([]Route, error) {
	if len(o.protocols) == 0 {
		route, err := o.fetch(ctx, q, "")
		if err != nil {
			return nil, err
		}
		return []Route{route}, nil
	}
	if preferred := o.preferred(q.PreferredDEX); len(preferred) > 0 {
		routes, err := o.fanout(ctx, q, preferred)
		if err == nil || !xerrors.HasCode(err, swap.CodeNoRouteFound) {
			return routes, err
		}
	}
	return o.fanout(ctx, q, o.protocols)
}

// preferred 返回与 DEX 偏好匹配的已配置协议，例如 "Uniswap V3" 匹配 UNISWAP_V3。
func (o *OneInch) preferred(hint string) []string {
	key := protocolKey(hint)
	if key == "" {
		return nil
	}
	var out []string
	for _, p := range o.protocols {
		if strings.HasPrefix(protocolKey(p), key) {
			out = append(out, p)
		}
	}
	return out
}

func protocolKey(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return -1
		}
	}, name)
}

func (o *OneInch) fanout(ctx context.Context, q Query, protocols []string) ([]Route, error) {
	routes := make([]*Route, len(protocols))
	errs := make([]error, len(protocols))
	var g errgroup.Group
	g.SetLimit(maxParallelProtocols)
	for i, protocol := range protocols {
		g.Go(func() error {
			route, err := o.fetch(ctx, q, protocol)
			if err != nil {
				errs[i] = errors.Wrapf(err, "protocol %s", protocol)
				return nil
			}
			routes[i] = &route
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Route, 0, len(routes))
	seen := make(map[string]int, len(routes))
	for _, route := range routes {
		if route == nil {
			continue
		}
		// 不同协议可能落到同一条路径，按原始 ID 计数追加序号。
		id := route.ID
		n := seen[id]
		seen[id]++
		if n > 0 {
			route.ID = fmt.Sprintf("%s#%d", id, n+1)
		}
		out = append(out, *route)
	}
	if len(out) > 0 {
		return out, nil
	}

	combined := multierr.Combine(errs...)
	for _, err := range errs {
		if !xerrors.HasCode(errors.Cause(err), swap.CodeNoRouteFound) {
			return nil, xerrors.Wrap(swap.CodeQuoteServiceUnavailable, combined, "1inch 报价全部失败")
		}
	}
	return nil, xerrors.Wrap(swap.CodeNoRouteFound, combined, "1inch 没有可用路由")
}

func (o *OneInch) fetch(ctx context.Context, q Query, protocol string) (Route, error) {
	params := url.Values{}
	params.Set("src", q.Source.Address)
	params.Set("dst", q.Destination.Address)
	params.Set("amount", q.Source.ToBaseUnits(q.Amount).String())
	params.Set("includeGas", "true")
	params.Set("includeProtocols", "true")
	if protocol != "" {
		params.Set("protocols", protocol)
	}

	endpoint := fmt.Sprintf("%s/swap/v5.2/%s/quote?%s", o.baseURL, url.PathEscape(q.ChainID), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Route{}, xerrors.Wrap(swap.CodeQuoteServiceUnavailable, err, "构建 1inch 请求失败")
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return Route{}, xerrors.Wrap(swap.CodeQuoteServiceUnavailable, errors.Wrap(err, "httpClient.Do"), "请求 1inch 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Route{}, statusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded oneInchQuote
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Route{}, xerrors.Wrap(swap.CodeQuoteServiceUnavailable, err, "解析 1inch 响应失败")
	}

	raw := decoded.ToAmount
	if raw == "" {
		raw = decoded.ToTokenAmount
	}
	toAmount, ok := new(big.Int).SetString(raw, 10)
	if !ok || toAmount.Sign() <= 0 {
		return Route{}, xerrors.New(swap.CodeNoRouteFound, "1inch 返回的输出数量为空")
	}
	gas := decoded.Gas
	if gas == 0 {
		gas = decoded.EstimatedGas
	}
	impact := decimal.Zero
	if decoded.PriceImpact != "" {
		if v, err := decimal.NewFromString(decoded.PriceImpact.String()); err == nil {
			impact = v
		}
	}

	path := pathLabel(decoded.Protocols)
	if path == "" {
		path = protocol
	}
	if path == "" {
		path = "aggregated"
	}
	label := protocol
	if label == "" {
		label = path
	}
	return Route{
		ID:           "1inch:" + path,
		Protocol:     label,
		ToAmount:     toAmount,
		EstimatedGas: gas,
		PriceImpact:  impact,
	}, nil
}

// pathLabel 取每一跳占比最大的协议名，按跳拼接。
func pathLabel(protocols [][][]oneInchHop) string {
	if len(protocols) == 0 {
		return ""
	}
	hops := make([]string, 0, len(protocols[0]))
	for _, hop := range protocols[0] {
		best := ""
		bestPart := -1.0
		for _, part := range hop {
			if part.Part > bestPart {
				best, bestPart = part.Name, part.Part
			}
		}
		if best != "" {
			hops = append(hops, best)
		}
	}
	return strings.Join(hops, ">")
}

func statusError(status int, body string) error {
	detail := fmt.Sprintf("1inch 返回错误状态 %d: %s", status, body)
	switch {
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		return xerrors.New(swap.CodeNoRouteFound, detail)
	case status == http.StatusTooManyRequests:
		return xerrors.New(swap.CodeQuoteServiceUnavailable, detail, xerrors.WithMetadata("rate_limited", "true"))
	default:
		return xerrors.New(swap.CodeQuoteServiceUnavailable, detail)
	}
}

var _ Source = (*OneInch)(nil)
