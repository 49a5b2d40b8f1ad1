package vector

import (
	"fmt"
	"sort"
)

// Result is one search hit: a dense index position and its inner-product
// score against the query.
type Result struct {
	Position int
	Score    float32
}

// Flat is an exhaustive inner-product index over fixed-dimension vectors.
// Vectors are assumed pre-normalized by the encoder, making the score
// cosine-equivalent.
//
// Flat does no locking of its own: the owning service serializes Reset/Add
// against Search together with its position→id mapping, since the two must
// stay consistent as a pair.
type Flat struct {
	dim  int
	data []float32 // row-major, len = dim * Len()
}

// NewFlat creates an empty index for dim-dimensional vectors.
func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

// Dim returns the vector dimensionality.
func (f *Flat) Dim() int { return f.dim }

// Len returns the number of indexed vectors.
func (f *Flat) Len() int { return len(f.data) / f.dim }

// Reset discards all vectors.
func (f *Flat) Reset() {
	f.data = f.data[:0]
}

// Add appends one vector and returns its dense position.
func (f *Flat) Add(vec []float32) (int, error) {
	if len(vec) != f.dim {
		return 0, fmt.Errorf("vector has dimension %d, index expects %d", len(vec), f.dim)
	}
	pos := f.Len()
	f.data = append(f.data, vec...)
	return pos, nil
}

// AddBatch appends vectors in order, failing before any mutation if one has
// the wrong dimension.
func (f *Flat) AddBatch(vecs [][]float32) error {
	for i, v := range vecs {
		if len(v) != f.dim {
			return fmt.Errorf("vector %d has dimension %d, index expects %d", i, len(v), f.dim)
		}
	}
	for _, v := range vecs {
		f.data = append(f.data, v...)
	}
	return nil
}

// Search returns up to k results ordered by descending score. Ties keep
// insertion order so repeated searches are deterministic.
func (f *Flat) Search(query []float32, k int) ([]Result, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("query has dimension %d, index expects %d", len(query), f.dim)
	}
	n := f.Len()
	if n == 0 || k <= 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	results := make([]Result, n)
	for i := 0; i < n; i++ {
		row := f.data[i*f.dim : (i+1)*f.dim]
		var dot float32
		for j, q := range query {
			dot += q * row[j]
		}
		results[i] = Result{Position: i, Score: dot}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	return results[:k], nil
}
