package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseSizingInput() SizingInput {
	return SizingInput{
		Symbol:          "NIFTY24DECFUT",
		Side:            "BUY",
		Price:           100.0,
		LotSize:         50,
		AvailableMargin: 500000,
		TotalEquity:     1000000,
		Config: StrategyRiskConfig{
			StrategyName:    "trend",
			RiskPerTrade:    0.02,
			MaxPositionSize: 0.10,
		},
	}
}

// TestCalculatePercentOfEquity verifies the risk-based sizing path
func TestCalculatePercentOfEquity(t *testing.T) {
	sizer := NewPositionSizer(SizePercentOfEquity)
	result := sizer.Calculate(baseSizingInput())

	assert.True(t, result.Success)
	// 2% of 1,000,000 = 20,000 risk / 100 price = 200 shares = 4 lots
	assert.Equal(t, 200, result.FinalQuantity)
	assert.Equal(t, 4, result.NumLots)
	assert.Equal(t, 20000.0, result.EstimatedCost)
	assert.Nil(t, result.Rejection)
}

// TestCalculateIsIdempotent verifies sizing is a pure function of its
// inputs
func TestCalculateIsIdempotent(t *testing.T) {
	sizer := NewPositionSizer(SizePercentOfEquity)
	input := baseSizingInput()

	first := sizer.Calculate(input)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, sizer.Calculate(input))
	}
}

// TestCalculateLotRounding verifies the final quantity is always a
// whole number of lots
func TestCalculateLotRounding(t *testing.T) {
	sizer := NewPositionSizer(SizePercentOfEquity)

	input := baseSizingInput()
	input.Config.RiskPerTrade = 0.0237 // awkward fraction

	result := sizer.Calculate(input)
	assert.True(t, result.Success)
	assert.Greater(t, result.FinalQuantity, 0)
	assert.Equal(t, 0, result.FinalQuantity%input.LotSize)
}

// TestCalculateMinimumLotBump verifies a sub-lot size is bumped to one
// lot when affordable
func TestCalculateMinimumLotBump(t *testing.T) {
	sizer := NewPositionSizer(SizePercentOfEquity)

	input := baseSizingInput()
	input.Config.RiskPerTrade = 0.001 // 1,000 risk / 100 = 10 shares, under one lot

	result := sizer.Calculate(input)
	assert.True(t, result.Success)
	assert.Equal(t, 50, result.FinalQuantity)
	assert.Equal(t, 1, result.NumLots)
}

// TestCalculateInsufficientMargin verifies the single-lot
// affordability check: lot_size=50 at price=18000 needs 900,000
// against 1,000 of margin
func TestCalculateInsufficientMargin(t *testing.T) {
	sizer := NewPositionSizer(SizePercentOfEquity)

	input := baseSizingInput()
	input.Price = 18000
	input.AvailableMargin = 1000
	input.TotalEquity = 1000

	result := sizer.Calculate(input)
	assert.False(t, result.Success)
	assert.Equal(t, 0, result.FinalQuantity)
	assert.NotNil(t, result.Rejection)
	assert.Equal(t, RejectInsufficientMargin, result.Rejection.Code)
}

// TestCalculateInvalidInputs verifies price and lot size validation
func TestCalculateInvalidInputs(t *testing.T) {
	sizer := NewPositionSizer(SizePercentOfEquity)

	input := baseSizingInput()
	input.Price = 0
	result := sizer.Calculate(input)
	assert.False(t, result.Success)
	assert.Equal(t, RejectInvalidPrice, result.Rejection.Code)

	input = baseSizingInput()
	input.Price = -5
	result = sizer.Calculate(input)
	assert.False(t, result.Success)
	assert.Equal(t, RejectInvalidPrice, result.Rejection.Code)

	input = baseSizingInput()
	input.LotSize = 0
	result = sizer.Calculate(input)
	assert.False(t, result.Success)
	assert.Equal(t, RejectInvalidLotSize, result.Rejection.Code)
}

// TestCalculateFixedCash verifies the fixed-cash sizing path
func TestCalculateFixedCash(t *testing.T) {
	sizer := NewPositionSizer(SizePercentOfEquity)

	input := baseSizingInput()
	input.Config.SizingMethod = SizeFixedCash
	input.Config.FixedCashPerTrade = 30000

	result := sizer.Calculate(input)
	assert.True(t, result.Success)
	assert.Equal(t, SizeFixedCash, result.Method)
	// 30,000 / 100 = 300 shares = 6 lots exactly
	assert.Equal(t, 300, result.FinalQuantity)
	assert.Equal(t, 6, result.NumLots)
}

// TestCalculateMarginClamp verifies sizing never exceeds available
// margin even when the risk budget allows more
func TestCalculateMarginClamp(t *testing.T) {
	sizer := NewPositionSizer(SizePercentOfEquity)

	input := baseSizingInput()
	input.Config.RiskPerTrade = 0.5
	input.Config.MaxPositionSize = 1.0
	input.AvailableMargin = 12000 // fits 2 lots at 100 x 50

	result := sizer.Calculate(input)
	assert.True(t, result.Success)
	assert.Equal(t, 100, result.FinalQuantity)
	assert.LessOrEqual(t, result.EstimatedCost, input.AvailableMargin)
}
