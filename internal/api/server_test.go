package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swappilot/internal/auth"
	"swappilot/internal/observability/metrics"
	"swappilot/internal/swap"
	"swappilot/internal/task"
)

const wallet = "0x00000000000000000000000000000000000000aa"

type stubPipeline struct {
	got  swap.Request
	resp swap.Response
}

func (p *stubPipeline) Execute(_ context.Context, req swap.Request) swap.Response {
	p.got = req
	return p.resp
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSwapPathReturnsOKForBothOutcomes(t *testing.T) {
	cases := map[string]swap.Response{
		"confirmed": {Outcome: swap.OutcomeConfirmed, Confirmed: &swap.Confirmation{Summary: "Swap 100 USDC"}},
		"rejected":  {Outcome: swap.OutcomeRejected, Rejected: &swap.Rejection{Reason: swap.ReasonNoRouteFound}},
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			pipeline := &stubPipeline{resp: resp}
			h := NewServer(":0", pipeline).Handler()

			rec := do(t, h, http.MethodPost, "/api/v1/swap-path", `{"text":"swap 100 usdc to eth","wallet":"`+wallet+`","chain_id":"1"}`)
			require.Equal(t, http.StatusOK, rec.Code)

			var got swap.Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, resp.Outcome, got.Outcome)
			assert.Equal(t, "swap 100 usdc to eth", pipeline.got.Text)
			assert.Equal(t, "1", pipeline.got.ChainID)
		})
	}
}

type swapHistory struct {
	requests []swap.Request
}

func (h *swapHistory) RecordSwap(_ context.Context, req swap.Request, _ swap.Response) error {
	h.requests = append(h.requests, req)
	return nil
}

func TestSwapPathRecordsConfirmedSwaps(t *testing.T) {
	history := &swapHistory{}
	pipeline := &stubPipeline{resp: swap.Response{
		Outcome:   swap.OutcomeConfirmed,
		Confirmed: &swap.Confirmation{Summary: "Swap 100 USDC"},
	}}
	h := NewServer(":0", pipeline, WithSwapRecorder(history)).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/swap-path", `{"text":"swap 100 usdc to eth","wallet":"`+wallet+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, history.requests, 1)
	assert.Equal(t, "swap 100 usdc to eth", history.requests[0].Text)

	pipeline.resp = swap.Response{Outcome: swap.OutcomeRejected, Rejected: &swap.Rejection{Reason: swap.ReasonNoRouteFound}}
	rec = do(t, h, http.MethodPost, "/api/v1/swap-path", `{"text":"swap 100 usdc to eth","wallet":"`+wallet+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, history.requests, 1)
}

func TestSwapPathAcceptsLegacyQueryField(t *testing.T) {
	pipeline := &stubPipeline{resp: swap.Response{Outcome: swap.OutcomeConfirmed}}
	h := NewServer(":0", pipeline).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/swap-path", `{"query":"swap 1 eth to dai","wallet":"`+wallet+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "swap 1 eth to dai", pipeline.got.Text)
}

func TestSwapPathRejectsMalformedBody(t *testing.T) {
	h := NewServer(":0", &stubPipeline{}).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/swap-path", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_ARGUMENT")

	rec = do(t, h, http.MethodGet, "/api/v1/swap-path", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSwapJobsLifecycle(t *testing.T) {
	store := task.NewMemoryStore()
	svc := task.NewService(store, task.NewMemoryQueue(8), 2)
	h := NewServer(":0", &stubPipeline{}, WithJobService(svc)).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/swap-jobs", `{"id":"job-1","text":"swap 1 eth to usdc","wallet":"`+wallet+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted task.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	assert.Equal(t, "job-1", submitted.ID)
	assert.Equal(t, task.StatusPending, submitted.Status)

	require.NoError(t, store.MarkSucceeded(context.Background(), "job-1", swap.Response{
		Outcome:  swap.OutcomeRejected,
		Rejected: &swap.Rejection{Reason: swap.ReasonInsufficientBalance},
	}))

	rec = do(t, h, http.MethodGet, "/api/v1/swap-jobs/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched task.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, task.StatusSucceeded, fetched.Status)
	require.NotNil(t, fetched.Response)
	assert.Equal(t, swap.ReasonInsufficientBalance, fetched.Response.Reason())

	rec = do(t, h, http.MethodGet, "/api/v1/swap-jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/swap-jobs", `{"text":"swap","wallet":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSwapHistory(t *testing.T) {
	svc := task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(8), 2)
	h := NewServer(":0", &stubPipeline{}, WithJobService(svc)).Handler()

	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.Submit(context.Background(), swap.Request{ID: id, Text: "swap", Wallet: wallet})
		require.NoError(t, err)
	}

	rec := do(t, h, http.MethodGet, "/api/v1/swap-history/0x"+strings.ToUpper(wallet[2:])+"?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Jobs []task.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Jobs, 2)

	rec = do(t, h, http.MethodGet, "/api/v1/swap-history/not-a-wallet", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobRoutesWithoutService(t *testing.T) {
	h := NewServer(":0", &stubPipeline{}).Handler()
	rec := do(t, h, http.MethodGet, "/api/v1/swap-jobs/x", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	collector := metrics.New()
	h := NewServer(":0", &stubPipeline{resp: swap.Response{Outcome: swap.OutcomeConfirmed}}, WithMetrics(collector)).Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	_ = do(t, h, http.MethodPost, "/api/v1/swap-path", `{"text":"swap","wallet":"`+wallet+`"}`)

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `handler="swap_path"`)
}

func TestAuthGuardsBusinessRoutes(t *testing.T) {
	svc, err := auth.NewService(auth.Config{
		Mode: auth.ModeAPIKey,
		Keys: []auth.KeySpec{{Name: "cli", Key: "secret", Permissions: []string{auth.PermissionSwapQuery}}},
	})
	require.NoError(t, err)
	pipeline := &stubPipeline{resp: swap.Response{Outcome: swap.OutcomeConfirmed}}
	h := NewServer(":0", pipeline, WithAuth(svc), WithJobService(task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(4), 1))).Handler()
	body := `{"text":"swap 1 eth to dai","wallet":"` + wallet + `"}`

	rec := do(t, h, http.MethodPost, "/api/v1/swap-path", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/swap-path", strings.NewReader(body))
	req.Header.Set(auth.HeaderAPIKey, "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/swap-jobs/abc", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
