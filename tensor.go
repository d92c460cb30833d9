package surrogate

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

//////
// Const, vars, types.
//////

// Dtype tags the numeric precision a tensor was observed in. Storage is always
// float64 on the host; the tag travels with the data so that a fitted session
// can hand results back in the precision it received its inputs in.
type Dtype int

const (
	// Float64 is the default precision for all tensors.
	Float64 Dtype = iota

	// Float32 marks data that originated as single precision.
	Float32
)

// Device identifies where a tensor's memory logically lives. This package only
// computes on the host, but the label is preserved across a fitted session and
// results are explicitly moved back to CPU before being returned.
type Device string

// CPU is the host device. It is the default for all tensors.
const CPU Device = "cpu"

// Tensor is an N-dimensional float64 array with row-major layout. It is the
// common currency between the orchestrator and its pluggable numerical
// strategies: training data, bounds, candidates, posterior moments and kernel
// hyperparameters are all exchanged as tensors.
//
// Two-dimensional tensors bridge to gonum (see Matrix) for linear algebra.
//
// Important notes:
// - Shape-mismatched operations panic, mirroring gonum/mat conventions.
// - Tensors are not synchronized; callers own their tensors.
type Tensor struct {
	shape  []int
	data   []float64
	dtype  Dtype
	device Device
}

//////
// Factories.
//////

// NewTensor creates a tensor from row-major data with the given shape.
// The data slice is used directly, not copied. Panics if the shape does not
// match len(data).
func NewTensor(data []float64, shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}

	if n != len(data) {
		panic(fmt.Sprintf("surrogate: shape %v does not match %d elements", shape, len(data)))
	}

	return &Tensor{
		shape:  append([]int(nil), shape...),
		data:   data,
		dtype:  Float64,
		device: CPU,
	}
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}

	return NewTensor(make([]float64, n), shape...)
}

// Ones creates a one-filled tensor with the given shape.
func Ones(shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = 1
	}

	return t
}

// FromDense wraps a gonum matrix as a 2-D tensor. The data is copied so later
// mutations of the matrix do not alias the tensor.
func FromDense(m *mat.Dense) *Tensor {
	r, c := m.Dims()

	t := Zeros(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t.data[i*c+j] = m.At(i, j)
		}
	}

	return t
}

//////
// Methods.
//////

// Dim returns the number of dimensions.
func (t *Tensor) Dim() int { return len(t.shape) }

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

// Size returns the length of dimension i. Negative indices count from the
// trailing dimension, so Size(-1) is the length of the last dimension.
func (t *Tensor) Size(i int) int {
	if i < 0 {
		i += len(t.shape)
	}

	return t.shape[i]
}

// Numel returns the total number of elements.
func (t *Tensor) Numel() int { return len(t.data) }

// Dtype returns the tensor's precision tag.
func (t *Tensor) Dtype() Dtype { return t.dtype }

// Device returns the tensor's device label.
func (t *Tensor) Device() Device { return t.device }

// To returns a copy of the tensor tagged with the given dtype and device.
// Sessions use this to keep every derived tensor on the dtype/device captured
// at fit time.
func (t *Tensor) To(dtype Dtype, device Device) *Tensor {
	out := t.Clone()
	out.dtype = dtype
	out.device = device

	return out
}

// Detach returns an independent copy of the tensor moved to host memory.
// Results leaving the orchestrator are detached so callers never alias
// session-internal state.
func (t *Tensor) Detach() *Tensor {
	out := t.Clone()
	out.device = CPU

	return out
}

// Clone returns a deep copy preserving dtype and device.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.data))
	copy(data, t.data)

	out := NewTensor(data, t.shape...)
	out.dtype = t.dtype
	out.device = t.device

	return out
}

// At returns the element at the given multi-dimensional index.
func (t *Tensor) At(idx ...int) float64 {
	return t.data[t.offset(idx)]
}

// Set assigns the element at the given multi-dimensional index.
func (t *Tensor) Set(v float64, idx ...int) {
	t.data[t.offset(idx)] = v
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("surrogate: index %v on tensor of shape %v", idx, t.shape))
	}

	off := 0
	for i, ix := range idx {
		off = off*t.shape[i] + ix
	}

	return off
}

// Data returns the tensor's backing slice in row-major order. The slice is
// shared, not copied.
func (t *Tensor) Data() []float64 { return t.data }

// Row returns row i of a 2-D tensor as a shared slice.
func (t *Tensor) Row(i int) []float64 {
	if len(t.shape) != 2 {
		panic("surrogate: Row requires a 2-D tensor")
	}

	c := t.shape[1]

	return t.data[i*c : (i+1)*c]
}

// Matrix returns a gonum view of a 2-D tensor. The backing data is shared, so
// writes through the matrix are visible in the tensor.
func (t *Tensor) Matrix() *mat.Dense {
	if len(t.shape) != 2 {
		panic("surrogate: Matrix requires a 2-D tensor")
	}

	return mat.NewDense(t.shape[0], t.shape[1], t.data)
}

// Vector returns a gonum view of a 1-D tensor, sharing the backing data.
func (t *Tensor) Vector() *mat.VecDense {
	if len(t.shape) != 1 {
		panic("surrogate: Vector requires a 1-D tensor")
	}

	return mat.NewVecDense(t.shape[0], t.data)
}

// Reshape returns a tensor with the same backing data and a new shape.
// Panics if the element counts differ.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	out := NewTensor(t.data, shape...)
	out.dtype = t.dtype
	out.device = t.device

	return out
}

// Transpose returns the transpose of a 2-D tensor as a new tensor.
func (t *Tensor) Transpose() *Tensor {
	if len(t.shape) != 2 {
		panic("surrogate: Transpose requires a 2-D tensor")
	}

	r, c := t.shape[0], t.shape[1]

	out := Zeros(c, r)
	out.dtype = t.dtype
	out.device = t.device

	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.data[j*r+i] = t.data[i*c+j]
		}
	}

	return out
}

// MapRows applies f independently to every length-d row along the last
// dimension of an arbitrarily-batched tensor and reassembles the original
// batch shape. The callback receives a copy of each row, so it may retain or
// mutate its argument freely.
//
// This is the batch-shape-preserving adapter used to lift single-candidate
// callbacks (such as rounding functions) to batched tensors: a tensor of shape
// (b1, ..., bk, d) maps to a tensor of the same shape where each row equals
// f(row) applied to that row alone.
func (t *Tensor) MapRows(f func(row []float64) []float64) *Tensor {
	d := t.Size(-1)

	out := t.Clone()

	rows := len(t.data) / d
	for i := 0; i < rows; i++ {
		row := make([]float64, d)
		copy(row, t.data[i*d:(i+1)*d])

		mapped := f(row)
		if len(mapped) != d {
			panic(fmt.Sprintf("surrogate: MapRows callback returned %d values, want %d", len(mapped), d))
		}

		copy(out.data[i*d:(i+1)*d], mapped)
	}

	return out
}

//////
// Helper functions.
//////

// CatRows concatenates 2-D tensors along the leading axis. All inputs must
// share the trailing dimension; dtype and device are taken from the first
// input. Returns nil if no non-empty inputs are given.
func CatRows(tensors ...*Tensor) *Tensor {
	var parts []*Tensor

	for _, t := range tensors {
		if t != nil && t.Numel() > 0 {
			parts = append(parts, t)
		}
	}

	if len(parts) == 0 {
		return nil
	}

	d := parts[0].Size(-1)

	total := 0
	for _, p := range parts {
		if p.Size(-1) != d {
			panic("surrogate: CatRows requires a common trailing dimension")
		}

		total += p.Size(0)
	}

	out := Zeros(total, d)
	out.dtype = parts[0].dtype
	out.device = parts[0].device

	off := 0
	for _, p := range parts {
		copy(out.data[off:], p.data)
		off += p.Numel()
	}

	return out
}
