package drift

import "math"

// chiSquareFallbackSampleSize scales proportion distributions into
// pseudo-counts when the observation sample size is unknown.
const chiSquareFallbackSampleSize = 1000

// ChiSquareTest runs a chi-square goodness-of-fit test of an observed
// distribution against a baseline distribution. Both inputs are
// empirical probability distributions; they are scaled to pseudo-counts
// by sampleSize so the test reflects the amount of evidence behind the
// observation. Returns the test statistic, the upper-tail p-value, and
// the degrees of freedom.
func ChiSquareTest(baseline, observed map[string]float64, sampleSize int) (stat, pValue float64, dof int) {
	n := float64(sampleSize)
	if n <= 0 {
		n = chiSquareFallbackSampleSize
	}

	categories := map[string]bool{}
	for c := range baseline {
		categories[c] = true
	}
	for c := range observed {
		categories[c] = true
	}

	for c := range categories {
		expected := baseline[c] * n
		if expected <= 0 {
			// Category absent from the baseline: a tiny floor keeps the
			// statistic finite while still registering the shift.
			expected = 1e-6
		}
		obs := observed[c] * n
		diff := obs - expected
		stat += diff * diff / expected
	}

	dof = len(categories) - 1
	pValue = ChiSquarePValue(stat, dof)
	return stat, pValue, dof
}

// ChiSquarePValue returns the upper-tail probability P(X >= stat) of a
// chi-square distribution with dof degrees of freedom.
func ChiSquarePValue(stat float64, dof int) float64 {
	if dof <= 0 || stat <= 0 || math.IsNaN(stat) {
		return 1
	}
	return gammaQ(float64(dof)/2, stat/2)
}

// gammaQ is the regularized upper incomplete gamma function Q(a, x).
// Series expansion for x < a+1, Lentz continued fraction otherwise.
func gammaQ(a, x float64) float64 {
	if x < 0 || a <= 0 {
		return 1
	}
	if x < a+1 {
		return 1 - gammaSeriesP(a, x)
	}
	return gammaCF(a, x)
}

// gammaSeriesP computes the regularized lower incomplete gamma P(a, x)
// by series expansion. Converges quickly for x < a+1.
func gammaSeriesP(a, x float64) float64 {
	if x <= 0 {
		return 0
	}
	lg, _ := math.Lgamma(a)
	ap := a
	sum := 1.0 / a
	del := sum
	for i := 0; i < 200; i++ {
		ap++
		del *= x / ap
		sum += del
		if math.Abs(del) < math.Abs(sum)*1e-12 {
			break
		}
	}
	return sum * math.Exp(-x+a*math.Log(x)-lg)
}

// gammaCF computes Q(a, x) by modified Lentz continued fraction.
// Converges quickly for x >= a+1.
func gammaCF(a, x float64) float64 {
	const tiny = 1e-300
	lg, _ := math.Lgamma(a)

	b := x + 1 - a
	c := 1 / tiny
	d := 1 / b
	h := d
	for i := 1; i <= 200; i++ {
		an := -float64(i) * (float64(i) - a)
		b += 2
		d = an*d + b
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = b + an/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < 1e-12 {
			break
		}
	}
	return math.Exp(-x+a*math.Log(x)-lg) * h
}
