package audio

// LPCFilter is an all-pole synthesis filter
// y[n] = e[n] + sum_k a[k]*y[n-1-k]. Its history carries across calls so
// consecutive pitch periods of one unit form a continuous signal.
type LPCFilter struct {
	history []float64 // history[0] is y[n-1]
}

// NewLPCFilter returns a filter with a zeroed history of the given order.
func NewLPCFilter(order int) *LPCFilter {
	return &LPCFilter{history: make([]float64, order)}
}

// Reset clears the filter memory.
func (f *LPCFilter) Reset() {
	clear(f.history)
}

// Synthesize filters residual through coeffs and appends the output to
// out. Coefficients beyond the filter order are ignored.
func (f *LPCFilter) Synthesize(out []float64, coeffs []float32, residual []int16) []float64 {
	p := min(len(coeffs), len(f.history))
	for _, e := range residual {
		y := float64(e)
		for k := 0; k < p; k++ {
			y += float64(coeffs[k]) * f.history[k]
		}
		copy(f.history[1:], f.history[:len(f.history)-1])
		if len(f.history) > 0 {
			f.history[0] = y
		}
		out = append(out, y)
	}

	return out
}
