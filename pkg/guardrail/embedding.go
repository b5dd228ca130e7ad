package guardrail

import (
	"hash/fnv"
	"math"
	"strings"
)

// embeddingDims is the fixed dimensionality of the hashed-bag-of-words
// embedding used by the smart and dlm_kernel evaluators when no external
// embedding provider is configured.
const embeddingDims = 64

// embed turns text into a unit-length vector via the hashing trick: each
// token's hash selects a dimension (sign from a second hash bit), and the
// resulting vector is L2-normalized. This keeps the smart/dlm_kernel
// evaluators self-contained and deterministic for tests and offline use;
// a real embedding-model backend can be substituted behind the same
// []float64 interface once `smart.embedding_model` names a network
// provider (see config.SmartConfig.EmbeddingModel).
func embed(text string) []float64 {
	v := make([]float64, embeddingDims)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		dim := int(sum % uint32(embeddingDims))
		sign := 1.0
		if sum&0x10000 != 0 {
			sign = -1.0
		}
		v[dim] += sign
	}
	return normalize(v)
}

// centroid averages a set of texts' embeddings and re-normalizes, giving a
// single representative unit vector for a training-example set.
func centroid(texts []string) []float64 {
	if len(texts) == 0 {
		return nil
	}
	sum := make([]float64, embeddingDims)
	for _, t := range texts {
		e := embed(t)
		for i, v := range e {
			sum[i] += v
		}
	}
	return normalize(sum)
}

func normalize(v []float64) []float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

func euclideanSquared(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}
