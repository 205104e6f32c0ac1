package risk

import (
	"fmt"
	"math"
)

// SizingInput carries everything the sizer needs for one calculation.
// Margin and equity are caller-supplied snapshots; callers must
// re-fetch them before reusing an input.
type SizingInput struct {
	Symbol            string
	Side              string
	SuggestedQuantity int
	Price             float64
	LotSize           int
	AvailableMargin   float64
	TotalEquity       float64
	Config            StrategyRiskConfig
}

// PositionSizer converts a raw signal quantity into a broker-compliant,
// margin-affordable order size. Calculate is a pure function over its
// inputs - no state, no side effects.
type PositionSizer struct {
	defaultMethod SizingMethod
}

// NewPositionSizer creates a sizer with the given default method
func NewPositionSizer(defaultMethod SizingMethod) *PositionSizer {
	if defaultMethod == "" {
		defaultMethod = SizePercentOfEquity
	}
	return &PositionSizer{defaultMethod: defaultMethod}
}

// Calculate computes the final order quantity for a trade intent
func (s *PositionSizer) Calculate(input SizingInput) SizingResult {
	method := input.Config.SizingMethod
	if method == "" {
		method = s.defaultMethod
	}

	if input.Price <= 0 {
		return sizingFailure(method, input.LotSize,
			Reject(RejectInvalidPrice, "invalid price %.2f for sizing %s", input.Price, input.Symbol))
	}
	if input.LotSize <= 0 {
		return sizingFailure(method, input.LotSize,
			Reject(RejectInvalidLotSize, "invalid lot size %d for %s", input.LotSize, input.Symbol))
	}

	var result SizingResult
	switch method {
	case SizeFixedCash:
		result = s.sizeByFixedCash(input)
	default:
		result = s.sizeByPercentOfEquity(input)
	}

	// Bump to a single lot when the computed size rounds to zero but
	// one lot is still affordable
	if result.Success && result.FinalQuantity == 0 {
		result = s.bumpToMinimumLot(input, result)
	}
	if result.FinalQuantity == 0 && result.Rejection == nil {
		minCost := float64(input.LotSize) * input.Price
		result.Success = false
		result.Rejection = Reject(RejectInsufficientMargin,
			"cannot afford one lot of %s: lot cost %.2f > available margin %.2f",
			input.Symbol, minCost, input.AvailableMargin)
		result.Rationale = "insufficient margin for minimum lot size"
	}

	return result
}

// sizeByPercentOfEquity risks a fixed fraction of equity, capped by the
// maximum position weight and by available margin
func (s *PositionSizer) sizeByPercentOfEquity(input SizingInput) SizingResult {
	cfg := input.Config

	riskAmount := input.TotalEquity * cfg.RiskPerTrade
	maxPositionValue := input.TotalEquity * cfg.MaxPositionSize

	riskBasedShares := riskAmount / input.Price
	sizeBasedShares := maxPositionValue / input.Price
	maxShares := math.Min(riskBasedShares, sizeBasedShares)

	// The strategy's ask is an upper bound, never a floor
	if input.SuggestedQuantity > 0 {
		maxShares = math.Min(maxShares, float64(input.SuggestedQuantity))
	}

	numLots := int(math.Floor(maxShares / float64(input.LotSize)))
	finalQuantity := numLots * input.LotSize
	estimatedCost := float64(finalQuantity) * input.Price

	// Clamp to available margin
	if estimatedCost > input.AvailableMargin {
		marginShares := input.AvailableMargin / input.Price
		numLots = int(math.Floor(marginShares / float64(input.LotSize)))
		finalQuantity = numLots * input.LotSize
		estimatedCost = float64(finalQuantity) * input.Price
	}

	riskPct := 0.0
	if input.TotalEquity > 0 {
		riskPct = estimatedCost / input.TotalEquity * 100
	}

	return SizingResult{
		FinalQuantity:  finalQuantity,
		NumLots:        numLots,
		LotSize:        input.LotSize,
		RiskAmount:     riskAmount,
		RiskPercentage: riskPct,
		EstimatedCost:  estimatedCost,
		Method:         SizePercentOfEquity,
		Rationale:      formatRationale("risking %.1f%% of equity (%.2f)", riskPct, riskAmount),
		Success:        finalQuantity > 0,
	}
}

// sizeByFixedCash spends a configured cash amount per trade, never more
// than available margin
func (s *PositionSizer) sizeByFixedCash(input SizingInput) SizingResult {
	cashToRisk := math.Min(input.Config.FixedCashPerTrade, input.AvailableMargin)

	maxShares := cashToRisk / input.Price
	if input.SuggestedQuantity > 0 {
		maxShares = math.Min(maxShares, float64(input.SuggestedQuantity))
	}
	numLots := int(math.Floor(maxShares / float64(input.LotSize)))
	finalQuantity := numLots * input.LotSize
	estimatedCost := float64(finalQuantity) * input.Price

	riskPct := 0.0
	if input.TotalEquity > 0 {
		riskPct = estimatedCost / input.TotalEquity * 100
	}

	return SizingResult{
		FinalQuantity:  finalQuantity,
		NumLots:        numLots,
		LotSize:        input.LotSize,
		RiskAmount:     cashToRisk,
		RiskPercentage: riskPct,
		EstimatedCost:  estimatedCost,
		Method:         SizeFixedCash,
		Rationale:      formatRationale("fixed cash %.2f, %.1f%% of equity", cashToRisk, riskPct),
		Success:        finalQuantity > 0,
	}
}

// bumpToMinimumLot upgrades a zero-quantity result to one lot when the
// margin can carry it
func (s *PositionSizer) bumpToMinimumLot(input SizingInput, result SizingResult) SizingResult {
	minCost := float64(input.LotSize) * input.Price
	if input.AvailableMargin < minCost {
		result.Success = false
		result.Rejection = Reject(RejectInsufficientMargin,
			"cannot afford one lot of %s: lot cost %.2f > available margin %.2f",
			input.Symbol, minCost, input.AvailableMargin)
		result.Rationale = "insufficient margin for minimum lot size"
		return result
	}

	result.FinalQuantity = input.LotSize
	result.NumLots = 1
	result.EstimatedCost = minCost
	if input.TotalEquity > 0 {
		result.RiskPercentage = minCost / input.TotalEquity * 100
	}
	result.Rationale = formatRationale("adjusted to minimum lot size: %d units", input.LotSize)
	result.Success = true
	return result
}

func sizingFailure(method SizingMethod, lotSize int, rejection *Rejection) SizingResult {
	return SizingResult{
		LotSize:   lotSize,
		Method:    method,
		Rationale: rejection.Message,
		Success:   false,
		Rejection: rejection,
	}
}

func formatRationale(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
