package llm

import (
	"math"
	"testing"
)

func TestEstimateCost(t *testing.T) {
	cases := []struct {
		name             string
		model            string
		promptTokens     int
		completionTokens int
		want             float64
	}{
		{"gpt-4o-mini", "gpt-4o-mini", 1000000, 1000000, 0.15 + 0.60},
		{"gpt-5-nano", "gpt-5-nano", 1000000, 0, 0.05},
		{"gpt-5", "gpt-5", 1000000, 1000000, 2.50 + 10.00},
		{"case insensitive", "GPT-4O-MINI", 1000000, 0, 0.15},
		{"unknown model falls back", "some-future-model", 1000000, 1000000, 0.15 + 0.60},
		{"zero tokens", "gpt-4o-mini", 0, 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EstimateCost(tc.model, tc.promptTokens, tc.completionTokens)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("EstimateCost(%s, %d, %d) = %v, want %v",
					tc.model, tc.promptTokens, tc.completionTokens, got, tc.want)
			}
		})
	}
}
