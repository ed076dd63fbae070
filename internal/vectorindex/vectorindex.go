package vectorindex

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrEmpty is returned when building an index without vectors.
	ErrEmpty = errors.New("vectorindex: no vectors")
	// ErrDimensionMismatch is returned for ragged input or a query of the wrong size.
	ErrDimensionMismatch = errors.New("vectorindex: dimension mismatch")
)

// Hit is a search result: the row ordinal and its squared L2 distance to the query.
type Hit struct {
	Ordinal  int
	Distance float32
}

// Index answers nearest-neighbour queries over a fixed set of vectors.
type Index interface {
	Search(query []float32, k int) ([]Hit, error)
	Len() int
	Dim() int
	Vectors() [][]float32
}

// Flat is an exhaustive squared-Euclidean index. It is immutable once built and safe for
// concurrent use.
type Flat struct {
	dim  int
	data []float32 // row-major, len = n*dim
}

// Build copies vectors into a new Flat index. Row i of the index is vectors[i].
func Build(vectors [][]float32) (*Flat, error) {
	if len(vectors) == 0 {
		return nil, ErrEmpty
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: zero-length vector", ErrDimensionMismatch)
	}
	data := make([]float32, 0, len(vectors)*dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d", ErrDimensionMismatch, i, len(v), dim)
		}
		data = append(data, v...)
	}
	return &Flat{dim: dim, data: data}, nil
}

// Len returns the number of indexed vectors.
func (f *Flat) Len() int { return len(f.data) / f.dim }

// Dim returns the vector dimensionality.
func (f *Flat) Dim() int { return f.dim }

// Vectors returns a copy of the indexed rows.
func (f *Flat) Vectors() [][]float32 {
	out := make([][]float32, f.Len())
	for i := range out {
		row := make([]float32, f.dim)
		copy(row, f.data[i*f.dim:(i+1)*f.dim])
		out[i] = row
	}
	return out
}

// Search returns up to k rows nearest to query, closest first. Equal distances are
// ordered by ordinal.
func (f *Flat) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d values, index has %d", ErrDimensionMismatch, len(query), f.dim)
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	n := f.Len()
	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = Hit{Ordinal: i, Distance: squaredL2(query, f.data[i*f.dim:(i+1)*f.dim])}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Distance < hits[b].Distance
	})

	if k > n {
		k = n
	}
	return hits[:k], nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
