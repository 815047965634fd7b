package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDims is the vector length of the hashed model.
const DefaultDims = 1024

// Hashed is a deterministic offline model: character trigrams and whole
// words are hashed into a fixed number of signed buckets, then the vector is
// L2-normalised. Spelling variants of a name land close together.
type Hashed struct {
	Dims int
}

// NewHashed returns a Hashed model with DefaultDims when dims <= 0.
func NewHashed(dims int) Hashed {
	if dims <= 0 {
		dims = DefaultDims
	}
	return Hashed{Dims: dims}
}

// Embed implements match.EmbeddingModel.
func (h Hashed) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.Vector(t)
	}
	return out, nil
}

// Vector embeds a single text.
func (h Hashed) Vector(text string) []float64 {
	dims := h.Dims
	if dims <= 0 {
		dims = DefaultDims
	}
	v := make([]float64, dims)

	for _, word := range strings.Fields(normalize(text)) {
		h.add(v, "w:"+word, 2)
		padded := []rune(" " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			h.add(v, "c:"+string(padded[i:i+3]), 1)
		}
	}

	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v
}

func (h Hashed) add(v []float64, feature string, weight float64) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(len(v)))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

func normalize(s string) string {
	s = strings.ReplaceAll(strings.ToLower(s), "&", " and ")
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
}
