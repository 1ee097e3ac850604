package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"PolicyGate-Chain/internal/audit"
	"PolicyGate-Chain/internal/decision"
	"PolicyGate-Chain/internal/execution"
	"PolicyGate-Chain/internal/market"
	"PolicyGate-Chain/internal/policy"
	"PolicyGate-Chain/internal/run"
)

type stubBridge struct{}

func (stubBridge) Burn(context.Context, float64, string) (string, error) {
	return "0xburn", nil
}

func (stubBridge) AwaitAttestationAndMint(context.Context, string, string) (string, error) {
	return "0xmint", nil
}

func (stubBridge) PlaceBet(context.Context, string, string) (string, error) {
	return "0xbet", nil
}

func newTestServer(t *testing.T) (*Server, *audit.MemoryLedger) {
	t.Helper()

	policies := policy.NewStaticSource(map[string]policy.Policy{
		"treasury-weekly-v3": {
			PolicyID:      "treasury-weekly-v3",
			Authority:     "treasury-ops",
			MaxSpendUsdc:  50,
			MinConfidence: 70,
			AllowedChains: []string{"eth-sepolia"},
			ExpiresAt:     time.Now().Add(24 * time.Hour),
		},
	})
	ledger := audit.NewMemoryLedger()
	auditor := audit.NewLogger(ledger, audit.WithBackoff(time.Millisecond))
	bridge := stubBridge{}
	pipeline := execution.NewPipeline(bridge, bridge, execution.WithSourceChain("base-sepolia"))
	controller := run.NewController(policies, decision.DefaultRuleSet(), pipeline, auditor)
	return NewServer(":0", controller, run.NewMemoryStore(), ledger, "treasury-weekly-v3"), ledger
}

func postRun(t *testing.T, handler http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestCreateRunEndToEnd(t *testing.T) {
	server, ledger := newTestServer(t)
	handler := server.Handler()

	recorder := postRun(t, handler, runRequest{
		Opportunities: []market.Opportunity{
			{MarketID: "mkt-approve", Title: "ETH above 5k", Confidence: 95, RequiredUsdc: 40, Chain: "eth-sepolia"},
			{MarketID: "mkt-refuse", Title: "Long shot", Confidence: 20, RequiredUsdc: 40, Chain: "eth-sepolia"},
		},
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}

	var record run.Record
	if err := json.NewDecoder(recorder.Body).Decode(&record); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if record.Status != run.StatusCompleted {
		t.Fatalf("expected completed run, got %s (%s)", record.Status, record.Error)
	}
	if record.Result.Summary.Evaluated != 2 || record.Result.Summary.Approved != 1 {
		t.Fatalf("unexpected summary: %+v", record.Result.Summary)
	}
	if len(record.Result.ConfirmationRefs) != 2 {
		t.Fatalf("expected 2 confirmation refs, got %v", record.Result.ConfirmationRefs)
	}

	entries, err := ledger.ListLatest(context.Background(), 10)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}

	// 运行可以按 ID 查询。
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+record.RunID, nil)
	getRecorder := httptest.NewRecorder()
	handler.ServeHTTP(getRecorder, req)
	if getRecorder.Code != http.StatusOK {
		t.Fatalf("get run: status %d", getRecorder.Code)
	}
}

func TestCreateRunRejectsInvalidOpportunity(t *testing.T) {
	server, _ := newTestServer(t)
	recorder := postRun(t, server.Handler(), runRequest{
		Opportunities: []market.Opportunity{
			{MarketID: "", Confidence: 95, RequiredUsdc: 40, Chain: "eth-sepolia"},
		},
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestCreateRunUnknownPolicy(t *testing.T) {
	server, _ := newTestServer(t)
	recorder := postRun(t, server.Handler(), runRequest{
		PolicyRef: "no-such-policy",
		Opportunities: []market.Opportunity{
			{MarketID: "mkt-1", Confidence: 95, RequiredUsdc: 40, Chain: "eth-sepolia"},
		},
	})
	if recorder.Code == http.StatusOK {
		t.Fatalf("expected failure status, got %d", recorder.Code)
	}
}

func TestGetRunNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/unknown-run", nil)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestListAudit(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	postRun(t, handler, runRequest{
		Opportunities: []market.Opportunity{
			{MarketID: "mkt-1", Confidence: 95, RequiredUsdc: 40, Chain: "eth-sepolia"},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit?limit=5", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list audit: status %d", recorder.Code)
	}
	var entries []audit.Entry
	if err := json.NewDecoder(recorder.Body).Decode(&entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Outcome != audit.OutcomeExecuted {
		t.Fatalf("expected executed outcome, got %s", entries[0].Outcome)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/audit", nil)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
}
