package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swappilot/sdk/go/swappilot"
)

func init() {
	color.NoColor = true
}

func TestPrintResponseConfirmed(t *testing.T) {
	resp := swappilot.SwapResponse{
		Outcome: "confirmed",
		Confirmed: &swappilot.Confirmation{
			Intent: swappilot.Intent{
				Source:      swappilot.Token{Symbol: "USDC"},
				Destination: swappilot.Token{Symbol: "ETH"},
				MaxSlippage: "0.5",
			},
			Quote:            swappilot.Quote{RouteID: "1inch:UNISWAP_V3", ExpectedOutput: "0.041"},
			MinReceived:      "0.040795",
			ApprovalRequired: true,
			Summary:          "Swap 100 USDC for ~0.041 ETH",
		},
		Metadata: swappilot.Metadata{
			RequestID:  "r1",
			FinalState: "Done",
			Stages:     []swappilot.StageReport{{Stage: "Quoting", Attempts: 2, DurationMS: 40}},
		},
	}
	var buf bytes.Buffer
	printResponse(&buf, resp, true)
	out := buf.String()

	assert.Contains(t, out, "Route found")
	assert.Contains(t, out, "0.040795 ETH")
	assert.Contains(t, out, "Approval of USDC")
	assert.Contains(t, out, "Quoting     attempts=2 40ms")
}

func TestPrintResponseRejected(t *testing.T) {
	var buf bytes.Buffer
	printResponse(&buf, swappilot.SwapResponse{
		Outcome:  "rejected",
		Rejected: &swappilot.Rejection{Reason: "NoRouteFound", Explanation: "no liquidity"},
		Metadata: swappilot.Metadata{Degraded: true},
	}, false)
	out := buf.String()

	assert.Contains(t, out, "NoRouteFound")
	assert.Contains(t, out, "no liquidity")
	assert.Contains(t, out, "degraded")
	assert.NotContains(t, out, "final state")
}

func TestJobGetCommandUsesServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/swap-jobs/job-7", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"job-7","status":"failed","attempts":3,"max_attempts":3,"last_error":"报价服务不可用","error_code":"QUOTE_SERVICE_UNAVAILABLE"}`))
	}))
	defer srv.Close()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"job", "get", "job-7", "--server", srv.URL})
	require.NoError(t, root.Execute())

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "Job job-7: failed (attempt 3/3)"), text)
	assert.Contains(t, text, "QUOTE_SERVICE_UNAVAILABLE")
}

func TestHistoryRequiresServer(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"history", "0x00000000000000000000000000000000000000aa", "--server", ""})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--server")
}
