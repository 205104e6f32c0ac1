package worker

// SliceOrder splits a total quantity into broker-compliant child
// orders of at most maxLotsPerOrder lots each. Quantities are assumed
// to be lot-aligned by the sizer; any non-aligned remainder is
// absorbed by the final slice so the total is always preserved.
func SliceOrder(totalQuantity, lotSize, maxLotsPerOrder int) []int {
	if totalQuantity <= 0 || lotSize <= 0 || maxLotsPerOrder <= 0 {
		return nil
	}

	maxPerSlice := maxLotsPerOrder * lotSize
	if totalQuantity <= maxPerSlice {
		return []int{totalQuantity}
	}

	var slices []int
	remaining := totalQuantity
	for remaining > 0 {
		qty := maxPerSlice
		if remaining < maxPerSlice {
			qty = remaining
		}
		// Never strand a sub-slice remainder smaller than one lot
		if remaining-qty > 0 && remaining-qty < lotSize {
			qty = remaining
		}
		slices = append(slices, qty)
		remaining -= qty
	}
	return slices
}
