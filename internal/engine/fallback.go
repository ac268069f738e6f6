package engine

// NextArmed computes the armed-fallback slot for the next tick.
//
// The slot always reflects the most recently active schedule only: any tick
// with a winner rewrites it from that winner's own fallback category (clearing
// it when the winner has none), so an older schedule's fallback can never
// survive past the next activation. Ticks without a winner leave the slot
// untouched; that is exactly the period the fallback exists to cover.
func NextArmed(prevArmed string, winner *Schedule) string {
	if winner == nil {
		return prevArmed
	}
	return winner.FallbackCategoryID
}
