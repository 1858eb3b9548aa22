package monitor

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// defaultHistogramBins is used when a request does not ask for a bin count.
const defaultHistogramBins = 40

// finiteValues returns the finite values as float64, sorted ascending.
func finiteValues(values []float32) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		out = append(out, f)
	}
	sort.Float64s(out)
	return out
}

// histogram bins values into n equal-width bins spanning their range. It
// returns the n+1 bin edges and n counts, or nils when there are no finite
// values.
func histogram(values []float32, n int) (dividers, counts []float64) {
	x := finiteValues(values)
	if len(x) == 0 || n <= 0 {
		return nil, nil
	}
	lo, hi := x[0], x[len(x)-1]
	if hi <= lo {
		hi = lo + 1
	}
	dividers = make([]float64, n+1)
	floats.Span(dividers, lo, math.Nextafter(hi, math.Inf(1)))
	counts = stat.Histogram(nil, dividers, x, nil)
	return dividers, counts
}
