package scale

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name  string
		votes []float64
		deck  []float64
		want  float64
	}{
		{
			name:  "median on a card",
			votes: []float64{2, 3, 3},
			deck:  []float64{1, 2, 3, 5, 8, 13},
			want:  3,
		},
		{
			name:  "lower median of even count",
			votes: []float64{1, 4},
			deck:  []float64{1, 2, 3, 5, 8},
			want:  1,
		},
		{
			name:  "no votes falls back to first card",
			votes: nil,
			deck:  []float64{1, 2, 3, 5, 8},
			want:  1,
		},
		{
			name:  "two voters take the lower vote",
			votes: []float64{5, 8},
			deck:  []float64{1, 2, 3, 5, 8, 13, 20, 40, 100},
			want:  5,
		},
		{
			name:  "unsure votes are discarded",
			votes: []float64{0, 0, 5},
			deck:  []float64{1, 2, 3, 5, 8},
			want:  5,
		},
		{
			name:  "equidistant cards keep deck order",
			votes: []float64{3},
			deck:  []float64{2, 4},
			want:  2,
		},
		{
			name:  "off-scale vote maps to nearest card",
			votes: []float64{4},
			deck:  []float64{1, 2, 3, 5, 8},
			want:  3,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Estimate(tc.votes, tc.deck))
		})
	}
}

func TestLowerMedian(t *testing.T) {
	assert.Equal(t, float64(0), LowerMedian(nil))
	assert.Equal(t, float64(0), LowerMedian([]float64{0, -1}))
	assert.Equal(t, float64(3), LowerMedian([]float64{5, 3, 2}))
	assert.Equal(t, float64(3), LowerMedian([]float64{8, 3, 5, 3}))
}

func TestValid(t *testing.T) {
	deck := []float64{1, 2, 3, 5, 8}

	assert.True(t, Valid(deck, 5))
	assert.True(t, Valid(deck, Unsure))
	assert.False(t, Valid(deck, 4))
	assert.False(t, Valid(deck, -1))
}
