package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldTrade(t *testing.T) {
	tests := []struct {
		name       string
		driftOK    bool
		ebLB       float64
		cost       float64
		tax        float64
		turnoverOK bool
		want       bool
	}{
		{"all gates pass", true, 0.05, 0.01, 0.01, true, true},
		{"drift gate fails regardless of benefit", false, 10.0, 0.0, 0.0, true, false},
		{"turnover gate fails", true, 0.05, 0.01, 0.01, false, false},
		{"costs swallow the benefit", true, 0.02, 0.015, 0.01, true, false},
		{"zero net benefit is not enough", true, 0.02, 0.01, 0.01, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldTrade(tt.driftOK, tt.ebLB, tt.cost, tt.tax, tt.turnoverOK)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSummariseDecision(t *testing.T) {
	breakdown := SummariseDecision(true, 0.03, 0.01, 0.005, false)

	assert.False(t, breakdown.Execute)
	assert.True(t, breakdown.DriftOK)
	assert.False(t, breakdown.TurnoverOK)
	assert.InDelta(t, 0.015, breakdown.NetBenefit(), 1e-12)

	executed := SummariseDecision(true, 0.03, 0.01, 0.005, true)
	assert.True(t, executed.Execute)
}
