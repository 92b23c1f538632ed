package e2e

import (
	"context"
	"math"
	"testing"
)

func TestBuildCorpus(t *testing.T) {
	corpus := BuildCorpus()
	if corpus.TotalItems == 0 {
		t.Fatal("corpus has no items")
	}
	if corpus.TotalQueries == 0 {
		t.Fatal("corpus has no query test cases")
	}

	seen := make(map[int64]bool)
	for _, item := range corpus.Items {
		if item.ExternalID <= 0 {
			t.Errorf("item %q has invalid id %d", item.Name, item.ExternalID)
		}
		if seen[item.ExternalID] {
			t.Errorf("duplicate external id %d", item.ExternalID)
		}
		seen[item.ExternalID] = true
	}
	for _, tc := range corpus.TestCases {
		if len(tc.ExpectedIDs) == 0 {
			t.Errorf("test case %q has no expected ids", tc.Description)
		}
		for _, id := range tc.ExpectedIDs {
			if !seen[id] {
				t.Errorf("test case %q expects unknown id %d", tc.Description, id)
			}
		}
	}
}

func TestTopicGateway_SameTopicEmbedsClose(t *testing.T) {
	gw := NewTopicGateway()
	ctx := context.Background()

	walletItem, err := gw.Embed(ctx, "검정색 가죽 지갑")
	if err != nil {
		t.Fatal(err)
	}
	walletQuery, err := gw.Embed(ctx, "지갑 잃어버렸어요")
	if err != nil {
		t.Fatal(err)
	}
	umbrella, err := gw.Embed(ctx, "파란 우산")
	if err != nil {
		t.Fatal(err)
	}

	if got := dot(walletItem, walletQuery); math.Abs(got-1) > 1e-6 {
		t.Errorf("same-topic similarity = %f, want 1", got)
	}
	if got := dot(walletItem, umbrella); got != 0 {
		t.Errorf("cross-topic similarity = %f, want 0", got)
	}
}

func TestTopicGateway_EmptyInput(t *testing.T) {
	gw := NewTopicGateway()
	if _, err := gw.Embed(context.Background(), "  "); err == nil {
		t.Error("expected error for blank input")
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
