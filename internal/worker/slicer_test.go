package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSliceOrderSingleSlice verifies quantities within the cap stay
// whole
func TestSliceOrderSingleSlice(t *testing.T) {
	assert.Equal(t, []int{450}, SliceOrder(450, 50, 9))
	assert.Equal(t, []int{50}, SliceOrder(50, 50, 9))
}

// TestSliceOrderCompleteness verifies the slice quantities always sum
// to the requested total
func TestSliceOrderCompleteness(t *testing.T) {
	cases := []struct {
		total, lotSize, maxLots int
	}{
		{4050, 50, 9},
		{1000, 50, 9},
		{500, 25, 4},
		{37, 1, 9},
		{900, 50, 9},
	}

	for _, tc := range cases {
		slices := SliceOrder(tc.total, tc.lotSize, tc.maxLots)
		sum := 0
		for _, qty := range slices {
			sum += qty
			assert.Greater(t, qty, 0)
		}
		assert.Equal(t, tc.total, sum, "total %d lot %d max %d", tc.total, tc.lotSize, tc.maxLots)
	}
}

// TestSliceOrderRespectsCap verifies no full slice exceeds the
// regulatory cap
func TestSliceOrderRespectsCap(t *testing.T) {
	slices := SliceOrder(4050, 50, 9)
	assert.Len(t, slices, 9)
	for _, qty := range slices {
		assert.LessOrEqual(t, qty, 9*50)
	}
}

// TestSliceOrderLastAbsorbsRemainder verifies the tail slice carries
// what is left over
func TestSliceOrderLastAbsorbsRemainder(t *testing.T) {
	slices := SliceOrder(1000, 50, 9)
	// 450 + 450 + 100
	assert.Equal(t, []int{450, 450, 100}, slices)
}

// TestSliceOrderInvalidInputs verifies degenerate inputs return no
// slices
func TestSliceOrderInvalidInputs(t *testing.T) {
	assert.Nil(t, SliceOrder(0, 50, 9))
	assert.Nil(t, SliceOrder(-10, 50, 9))
	assert.Nil(t, SliceOrder(100, 0, 9))
	assert.Nil(t, SliceOrder(100, 50, 0))
}
