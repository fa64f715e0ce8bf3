package embedding

import (
	"errors"
	"fmt"
	"math"
)

// ErrLengthMismatch is returned when vectors have different lengths.
var ErrLengthMismatch = errors.New("vectors must have the same length")

// ErrZeroMagnitude is returned when a vector has zero magnitude.
var ErrZeroMagnitude = errors.New("vector has zero magnitude")

// Metric selects how two embedding vectors are compared. Cosine and dot
// product are similarities (larger is closer); euclidean is a distance
// (smaller is closer).
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclidean Metric = "euclidean"
)

// ParseMetric maps a config string to a Metric. The empty string selects
// cosine.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "", string(MetricCosine):
		return MetricCosine, nil
	case string(MetricDot):
		return MetricDot, nil
	case string(MetricEuclidean):
		return MetricEuclidean, nil
	default:
		return "", fmt.Errorf("unknown distance metric %q (want cosine, dot, or euclidean)", s)
	}
}

// Score compares two vectors under this metric.
func (m Metric) Score(a, b []float32) (float64, error) {
	switch m {
	case MetricDot:
		return DotProduct(a, b)
	case MetricEuclidean:
		return EuclideanDistance(a, b)
	default:
		return CosineSimilarity(a, b)
	}
}

// Passes reports whether score meets threshold under this metric. The
// comparison direction flips for euclidean: a distance at or below the
// threshold passes, while similarities pass at or above it.
func (m Metric) Passes(score, threshold float64) bool {
	if m == MetricEuclidean {
		return score <= threshold
	}
	return score >= threshold
}

// Better reports whether score a is a closer match than score b under this
// metric. Used to keep the best result across multiple references.
func (m Metric) Better(a, b float64) bool {
	if m == MetricEuclidean {
		return a < b
	}
	return a > b
}

// CosineSimilarity computes the cosine similarity between two float32 vectors.
// Returns a value in [-1.0, 1.0]. Errors if lengths differ or either vector
// has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrLengthMismatch
	}

	var dot, magA, magB float64
	for i := range a {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		magA += av * av
		magB += bv * bv
	}

	magA = math.Sqrt(magA)
	magB = math.Sqrt(magB)

	if magA == 0 || magB == 0 {
		return 0, ErrZeroMagnitude
	}

	return dot / (magA * magB), nil
}

// DotProduct computes the inner product of two float32 vectors. Unbounded
// unless the vectors are normalized, in which case it equals cosine
// similarity.
func DotProduct(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrLengthMismatch
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot, nil
}

// EuclideanDistance computes the L2 distance between two float32 vectors.
// Always >= 0; identical vectors have distance 0.
func EuclideanDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrLengthMismatch
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}
