package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/intrafmc/cbd_backend/models"
)

func TestRetryBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{4, 40 * time.Second},
		{7, 320 * time.Second},
		{8, maxBackoff},
		{30, maxBackoff},
	}
	for _, tc := range cases {
		got := retryBackoff(5*time.Second, tc.attempt)
		if got != tc.want {
			t.Fatalf("retryBackoff(5s, %d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestEventAttributes(t *testing.T) {
	attrs := eventAttributes(models.StockEvent{
		EventType:     models.StockEventArrivalValidated,
		ArrivalId:     42,
		CorrelationId: "cid-1",
	})
	if attrs["event_type"] != "arrival.validated" || attrs["arrival_id"] != "42" || attrs["correlation_id"] != "cid-1" {
		t.Fatalf("attributes = %v", attrs)
	}
}

func TestDispatchOnceWithoutDatabase(t *testing.T) {
	d := &OutboxDispatcher{}
	n, err := d.DispatchOnce(context.Background())
	if n != 0 || err != nil {
		t.Fatalf("DispatchOnce = %d, %v", n, err)
	}
}
