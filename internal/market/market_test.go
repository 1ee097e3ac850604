package market

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func validOpportunity() Opportunity {
	return Opportunity{
		MarketID:     "mkt-eth-5k",
		Title:        "ETH above 5k by Friday",
		Confidence:   85,
		RequiredUsdc: 40,
		Chain:        "eth-sepolia",
	}
}

func TestOpportunityValidate(t *testing.T) {
	if err := validOpportunity().Validate(); err != nil {
		t.Fatalf("valid opportunity rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Opportunity)
	}{
		{"missing market id", func(o *Opportunity) { o.MarketID = "" }},
		{"confidence above hundred", func(o *Opportunity) { o.Confidence = 120 }},
		{"negative confidence", func(o *Opportunity) { o.Confidence = -5 }},
		{"negative spend", func(o *Opportunity) { o.RequiredUsdc = -5 }},
		{"missing chain", func(o *Opportunity) { o.Chain = " " }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opp := validOpportunity()
			tc.mutate(&opp)
			if err := opp.Validate(); err == nil {
				t.Fatal("expected validation failure")
			}
		})
	}
}

func TestStaticSourceIsReplayable(t *testing.T) {
	source := NewStaticSource([]Opportunity{validOpportunity()})

	first, err := source.Opportunities(context.Background())
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	first[0].MarketID = "mutated"

	second, err := source.Opportunities(context.Background())
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if second[0].MarketID != "mkt-eth-5k" {
		t.Fatalf("source must hand out independent copies, got %s", second[0].MarketID)
	}
}

func TestMemoryQueueDeliversToWorkers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := NewMemoryQueue(16)
	var handled atomic.Int32
	done := make(chan struct{})

	go func() {
		_ = queue.Consume(ctx, 4, func(_ context.Context, _ Opportunity) error {
			if handled.Add(1) == 8 {
				close(done)
			}
			return nil
		})
	}()

	for i := 0; i < 8; i++ {
		if err := queue.Publish(ctx, validOpportunity()); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("timed out, handled %d of 8", handled.Load())
	}
}

func TestMemoryQueueRejectsPublishAfterClose(t *testing.T) {
	queue := NewMemoryQueue(4)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Publish(context.Background(), validOpportunity()); err == nil {
		t.Fatal("expected publish on closed queue to fail")
	}
}
