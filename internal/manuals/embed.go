package manuals

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/philippgille/chromem-go"
)

const hashDims = 256

// NewOpenAIEmbedding builds an embedding function backed by any
// OpenAI-compatible embeddings endpoint.
func NewOpenAIEmbedding(baseURL, apiKey, model string) chromem.EmbeddingFunc {
	normalized := true
	return chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, model, &normalized)
}

// NewHashEmbedding builds a deterministic local embedding function:
// token-hashed bag of words, L2 normalized. It needs no network and is
// the default when no embeddings endpoint is configured. Ranking
// quality is keyword-overlap grade, which is sufficient for small
// manual sets.
func NewHashEmbedding() chromem.EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, hashDims)
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			tok = strings.Trim(tok, ".,;:!?()[]\"'")
			if tok == "" {
				continue
			}
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[h.Sum32()%hashDims]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			// All-empty input still needs a valid unit vector.
			vec[0] = 1
			return vec, nil
		}
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
		return vec, nil
	}
}
