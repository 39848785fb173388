package contacts

// SchmittTrigger is a two-threshold switch. An OFF contact turns ON when the
// signal exceeds Upper. An ON contact turns OFF only once the signal drops
// below Lower. A NaN signal keeps the previous state.
type SchmittTrigger struct {
	Lower float64
	Upper float64
}

// Next returns the state following on given signal.
func (s SchmittTrigger) Next(on bool, signal float64) bool {
	if on {
		return !(signal < s.Lower)
	}
	return signal > s.Upper
}
