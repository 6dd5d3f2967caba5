package vector

import (
	"fmt"
	"math"
)

// minNorm is the smallest L2 norm accepted before normalization; anything
// smaller carries no direction and is rejected.
const minNorm = 1e-10

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of vec. It rejects vectors containing
// NaN or Inf entries and vectors with near-zero norm. Normalizing an already
// unit-length vector returns an equal vector within floating-point tolerance.
func Normalize(vec []float32) ([]float32, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("vector: empty vector")
	}
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("vector: invalid entry at %d: %v", i, v)
		}
	}
	norm := L2Norm(vec)
	if norm < minNorm {
		return nil, fmt.Errorf("vector: near-zero norm %g", norm)
	}
	out := make([]float32, len(vec))
	inv := 1.0 / norm
	for i, v := range vec {
		out[i] = float32(float64(v) * inv)
	}
	return out, nil
}
