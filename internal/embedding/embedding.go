// Package embedding is the similarity collaborator for anchor search: it turns
// text into vectors and scores vectors against each other.
package embedding

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// Config selects and configures an embedding provider.
type Config struct {
	Provider string // "ollama" | "openai" | "" (disabled)
	Model    string
	Target   string // base URL override
	APIKey   string
	Dims     int
}

// New creates the configured embedder. It returns nil, nil when embeddings
// are disabled, in which case anchor search falls back to substring match.
func New(c Config) (Embedder, error) {
	switch strings.ToLower(c.Provider) {
	case "", "none":
		return nil, nil
	case "ollama":
		return NewOllamaEmbedder(c.Target, c.Model), nil
	case "openai":
		return NewOpenAIEmbedder(c.Target, c.APIKey, c.Model, c.Dims)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (valid: ollama, openai)", c.Provider)
	}
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when they differ in length or either is zero.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Encode serializes a vector as little-endian float32s for BLOB storage.
func Encode(v Vector) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Decode is the inverse of Encode.
func Decode(b []byte) (Vector, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d: must be divisible by 4", len(b))
	}
	v := make(Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
