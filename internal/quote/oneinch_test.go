package quote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "swappilot/internal/errors"
	"swappilot/internal/swap"
)

func newTestOneInch(t *testing.T, handler http.HandlerFunc, protocols ...string) *OneInch {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewOneInch(OneInchConfig{BaseURL: srv.URL, APIKey: "key", Protocols: protocols, Timeout: time.Second})
	require.NoError(t, err)
	client.httpClient = srv.Client()
	return client
}

func usdcToEth() Query {
	return Query{ChainID: "1", Source: usdc, Destination: eth, Amount: decimal.NewFromInt(100)}
}

func TestOneInchRoutes(t *testing.T) {
	client := newTestOneInch(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap/v5.2/1/quote", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "100000000", r.URL.Query().Get("amount"))
		assert.Equal(t, usdc.Address, r.URL.Query().Get("src"))
		_, _ = w.Write([]byte(`{"toAmount":"41000000000000000","gas":150000,
			"protocols":[[[{"name":"UNISWAP_V3","part":80},{"name":"CURVE","part":20}],[{"name":"SUSHI","part":100}]]]}`))
	})

	routes, err := client.Routes(context.Background(), usdcToEth())
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "1inch:UNISWAP_V3>SUSHI", routes[0].ID)
	assert.Equal(t, "41000000000000000", routes[0].ToAmount.String())
	assert.Equal(t, uint64(150000), routes[0].EstimatedGas)
}

func TestOneInchLegacyFields(t *testing.T) {
	client := newTestOneInch(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"toTokenAmount":"5","estimatedGas":21000}`))
	})
	routes, err := client.Routes(context.Background(), usdcToEth())
	require.NoError(t, err)
	assert.Equal(t, "1inch:aggregated", routes[0].ID)
	assert.Equal(t, uint64(21000), routes[0].EstimatedGas)
}

func TestOneInchStatusMapping(t *testing.T) {
	cases := []struct {
		status    int
		code      xerrors.Code
		retryable bool
	}{
		{status: http.StatusBadRequest, code: swap.CodeNoRouteFound},
		{status: http.StatusTooManyRequests, code: swap.CodeQuoteServiceUnavailable, retryable: true},
		{status: http.StatusBadGateway, code: swap.CodeQuoteServiceUnavailable, retryable: true},
	}
	for _, tc := range cases {
		client := newTestOneInch(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		})
		_, err := client.Routes(context.Background(), usdcToEth())
		require.Error(t, err)
		assert.Equal(t, tc.code, xerrors.CodeOf(err), "status %d", tc.status)
		assert.Equal(t, tc.retryable, xerrors.RetryableError(err), "status %d", tc.status)
	}
}

func TestOneInchProtocolFanout(t *testing.T) {
	var calls atomic.Int32
	client := newTestOneInch(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch protocol := r.URL.Query().Get("protocols"); protocol {
		case "UNISWAP_V3":
			_, _ = w.Write([]byte(`{"toAmount":"41000000000000000","gas":120000}`))
		case "CURVE":
			_, _ = w.Write([]byte(`{"toAmount":"40500000000000000","gas":90000}`))
		default:
			http.Error(w, "insufficient liquidity", http.StatusBadRequest)
		}
	}, "UNISWAP_V3", "CURVE", "BALANCER")

	routes, err := client.Routes(context.Background(), usdcToEth())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, routes, 2)
	ids := []string{routes[0].ID, routes[1].ID}
	assert.ElementsMatch(t, []string{"1inch:UNISWAP_V3", "1inch:CURVE"}, ids)
}

func TestOneInchFanoutAllFail(t *testing.T) {
	client := newTestOneInch(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.RawQuery, "CURVE") {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "no liquidity", http.StatusBadRequest)
	}, "UNISWAP_V3", "CURVE")

	_, err := client.Routes(context.Background(), usdcToEth())
	assert.Equal(t, swap.CodeQuoteServiceUnavailable, xerrors.CodeOf(err))

	client = newTestOneInch(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no liquidity", http.StatusBadRequest)
	}, "UNISWAP_V3", "CURVE")
	_, err = client.Routes(context.Background(), usdcToEth())
	assert.Equal(t, swap.CodeNoRouteFound, xerrors.CodeOf(err))
}

func TestNewOneInchRequiresKey(t *testing.T) {
	_, err := NewOneInch(OneInchConfig{})
	assert.Error(t, err)
}

func TestOneInchRouteIDsStayUnique(t *testing.T) {
	// 所有协议都返回同一条路径。
	client := newTestOneInch(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"toAmount":"41000000000000000","protocols":[[[{"name":"UNISWAP_V3","part":100}]]]}`))
	}, "UNISWAP_V3", "CURVE", "BALANCER", "SUSHI")

	routes, err := client.Routes(context.Background(), usdcToEth())
	require.NoError(t, err)
	require.Len(t, routes, 4)
	ids := make([]string, 0, len(routes))
	for _, route := range routes {
		ids = append(ids, route.ID)
	}
	assert.Equal(t, []string{"1inch:UNISWAP_V3", "1inch:UNISWAP_V3#2", "1inch:UNISWAP_V3#3", "1inch:UNISWAP_V3#4"}, ids)
}

func TestOneInchPreferredDEX(t *testing.T) {
	var mu sync.Mutex
	var asked []string
	client := newTestOneInch(t, func(w http.ResponseWriter, r *http.Request) {
		protocol := r.URL.Query().Get("protocols")
		mu.Lock()
		asked = append(asked, protocol)
		mu.Unlock()
		if protocol == "CURVE" {
			http.Error(w, "no liquidity", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"toAmount":"41000000000000000"}`))
	}, "UNISWAP_V2", "UNISWAP_V3", "CURVE")

	q := usdcToEth()
	q.PreferredDEX = "Uniswap V3"
	routes, err := client.Routes(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "1inch:UNISWAP_V3", routes[0].ID)
	assert.Equal(t, []string{"UNISWAP_V3"}, asked)

	// 偏好协议无路由时回退到全部协议。
	asked = nil
	q.PreferredDEX = "curve"
	routes, err = client.Routes(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, routes, 2)
	assert.Len(t, asked, 4)

	// 未匹配任何已配置协议的偏好被忽略。
	asked = nil
	q.PreferredDEX = "pancakeswap"
	_, err = client.Routes(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, asked, 3)
}
