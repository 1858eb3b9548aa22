package mesh

import "iter"

// DenseVertexMap stores exactly one value for every vertex of a mesh.
// It is indexed by VertexHandle and is not safe for concurrent writes.
type DenseVertexMap[T any] struct {
	values []T
}

// NewDenseVertexMap returns a map for n vertices with every value set to init.
func NewDenseVertexMap[T any](n int, init T) *DenseVertexMap[T] {
	values := make([]T, n)
	for i := range values {
		values[i] = init
	}
	return &DenseVertexMap[T]{values: values}
}

// DenseVertexMapFromValues wraps values, taking ownership of the slice.
func DenseVertexMapFromValues[T any](values []T) *DenseVertexMap[T] {
	return &DenseVertexMap[T]{values: values}
}

// Len returns the number of vertices covered.
func (m *DenseVertexMap[T]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.values)
}

// Get returns the value for vh and whether vh is covered by the map.
func (m *DenseVertexMap[T]) Get(vh VertexHandle) (T, bool) {
	if m == nil || int(vh) >= len(m.values) {
		var zero T
		return zero, false
	}
	return m.values[vh], true
}

// At returns the value for vh. It panics if vh is out of range.
func (m *DenseVertexMap[T]) At(vh VertexHandle) T {
	return m.values[vh]
}

// Set stores val for vh. It panics if vh is out of range.
func (m *DenseVertexMap[T]) Set(vh VertexHandle, val T) {
	m.values[vh] = val
}

// All iterates over (handle, value) pairs in handle order.
func (m *DenseVertexMap[T]) All() iter.Seq2[VertexHandle, T] {
	return func(yield func(VertexHandle, T) bool) {
		if m == nil {
			return
		}
		for i, v := range m.values {
			if !yield(VertexHandle(i), v) {
				return
			}
		}
	}
}

// Values returns a copy of the underlying values in handle order.
func (m *DenseVertexMap[T]) Values() []T {
	if m == nil {
		return nil
	}
	return append([]T(nil), m.values...)
}

// Clone returns an independent copy of m.
func (m *DenseVertexMap[T]) Clone() *DenseVertexMap[T] {
	return &DenseVertexMap[T]{values: m.Values()}
}
