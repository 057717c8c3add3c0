// Package corrmetrics implements the universal "is this a good
// discriminator?" signal shared by the candidate matcher's scoring step
// and the correlation discoverer: distance, affinity, density, stability
// and cohesion over 4-D feature vectors, folded into one bounded score.
package corrmetrics

import "math"

// Vec4 is the (value, rel_x, rel_y, size) match payload these metrics score.
type Vec4 = [4]float64

// EuclideanDistance returns +Inf unless typesMatch is true (value_type and
// resolution level agree within tolerance) — two incomparable vectors are
// never "close" regardless of their numeric distance.
func EuclideanDistance(a, b Vec4, typesMatch bool) float64 {
	if !typesMatch {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineSimilarity is the standard definition over the 4-vector.
func CosineSimilarity(a, b Vec4) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// PearsonCorrelation is the standard definition over the 4-vector.
func PearsonCorrelation(a, b Vec4) float64 {
	n := float64(len(a))
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// Assessment is the score plus the component metrics callers need to
// explain a rejection or rank several candidates against each other.
type Assessment struct {
	Score       float64
	Affinity    float64
	Cohesion    float64
	Density     float64
	Stability   float64
	MeanCosine  float64
	MeanPearson float64
	MeanDistance float64
	Rejected    bool
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score evaluates how well `target` is discriminated against a sample list
// `samples` (already resolution/type-matched, truncated by the caller to
// config.MaxCandidateSample).
func Score(target Vec4, samples []Vec4, minAffinity, minCohesion float64) Assessment {
	n := len(samples)
	if n == 0 {
		return Assessment{Rejected: true}
	}

	var sumCos, sumPear, sumDist float64
	dists := make([]float64, n)
	for i, s := range samples {
		cos := CosineSimilarity(target, s)
		pear := PearsonCorrelation(target, s)
		d := EuclideanDistance(target, s, true)
		sumCos += cos
		sumPear += pear
		sumDist += d
		dists[i] = d
	}
	meanCos := sumCos / float64(n)
	meanPear := sumPear / float64(n)
	meanDist := sumDist / float64(n)

	var sumSqDev float64
	for _, d := range dists {
		dev := d - meanDist
		sumSqDev += dev * dev
	}
	stdDevDist := math.Sqrt(sumSqDev / float64(n))

	affinity := clamp01(((meanCos+1)/2 + (meanPear+1)/2) / 2)
	density := 1 / (1 + meanDist)
	stability := 1 / (1 + stdDevDist)
	cohesion := clamp01((density + stability) / 2)

	if affinity < minAffinity || cohesion < minCohesion {
		return Assessment{
			Affinity: affinity, Cohesion: cohesion, Density: density, Stability: stability,
			MeanCosine: meanCos, MeanPearson: meanPear, MeanDistance: meanDist,
			Rejected: true,
		}
	}

	score := affinity * cohesion * (1 + math.Log1p(float64(n)))

	return Assessment{
		Score:        score,
		Affinity:     affinity,
		Cohesion:     cohesion,
		Density:      density,
		Stability:    stability,
		MeanCosine:   meanCos,
		MeanPearson:  meanPear,
		MeanDistance: meanDist,
	}
}
