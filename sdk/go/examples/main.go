package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"PolicyGate-Chain/sdk/go/policygate"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewEncoder(w).Encode(policygate.RunRecord{
			RunID:  "run-demo",
			Status: "completed",
			Result: &policygate.RunResult{
				RunID:    "run-demo",
				PolicyID: "demo-policy-v1",
				Summary: policygate.RunSummary{
					Evaluated: 2,
					Approved:  1,
					Refused:   1,
				},
				Refusals:         map[string]int{"max_spend_exceeded": 1},
				ConfirmationRefs: []string{"mem:entry-1", "mem:entry-2"},
				StartedAt:        time.Now().Add(-time.Minute).UTC(),
				FinishedAt:       time.Now().UTC(),
			},
		})
	})
	mux.HandleFunc("/api/v1/runs/run-demo", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(policygate.RunRecord{RunID: "run-demo", Status: "completed"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := policygate.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record, err := client.StartRun(ctx, policygate.RunRequest{
		PolicyRef: "demo-policy-v1",
		Opportunities: []policygate.Opportunity{
			{MarketID: "mkt-1", Title: "ETH above 5k by Friday", Confidence: 91, RequiredUsdc: 40, Chain: "eth-sepolia"},
			{MarketID: "mkt-2", Title: "BTC dominance under 50%", Confidence: 88, RequiredUsdc: 500, Chain: "eth-sepolia"},
		},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("run %s finished: %+v\n", record.RunID, record.Result.Summary)

	detail, err := client.GetRun(ctx, record.RunID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("retrieved run %s status=%s\n", detail.RunID, detail.Status)
}
