package beam

import (
	"errors"
	"fmt"
	"sync"
)

// HostImage is a 3D float image in host memory: one 2D spot-weight map per
// energy layer, x (column) fastest, then y (row), then layer.
//
// The memory behind a HostImage belongs to the Allocator that produced it.
type HostImage struct {
	Dims [3]int
	Data []float32
}

// Index returns the flat offset of (x, y, layer).
func (h *HostImage) Index(x, y, layer int) int {
	return (layer*h.Dims[1]+y)*h.Dims[0] + x
}

// At returns the weight of spot (x, y) in layer.
func (h *HostImage) At(x, y, layer int) float32 {
	return h.Data[h.Index(x, y, layer)]
}

// Set stores the weight of spot (x, y) in layer.
func (h *HostImage) Set(x, y, layer int, v float32) {
	h.Data[h.Index(x, y, layer)] = v
}

// Layers returns the number of energy layers in the image.
func (h *HostImage) Layers() int {
	return h.Dims[2]
}

// Allocator owns host images. A pinned-memory allocator used by the GPU
// pipeline implements this interface; HeapAllocator is the plain Go
// implementation.
type Allocator interface {
	Alloc(dims [3]int) (*HostImage, error)
	Free(img *HostImage) error
}

// ErrNotOwned is returned when freeing an image the allocator did not
// produce, or one that was already freed.
var ErrNotOwned = errors.New("beam: image not owned by allocator")

// HeapAllocator allocates host images on the Go heap and tracks which ones
// are live. It is safe for concurrent use.
type HeapAllocator struct {
	mu   sync.Mutex
	live map[*HostImage]struct{}
}

// NewHeapAllocator returns an empty HeapAllocator.
func NewHeapAllocator() *HeapAllocator {
	return &HeapAllocator{live: make(map[*HostImage]struct{})}
}

// Alloc returns a zeroed image of the given dimensions.
func (a *HeapAllocator) Alloc(dims [3]int) (*HostImage, error) {
	if dims[0] <= 0 || dims[1] <= 0 || dims[2] <= 0 {
		return nil, fmt.Errorf("beam: invalid image dimensions %v", dims)
	}
	img := &HostImage{Dims: dims, Data: make([]float32, dims[0]*dims[1]*dims[2])}

	a.mu.Lock()
	a.live[img] = struct{}{}
	a.mu.Unlock()
	return img, nil
}

// Free releases img. The image must not be used afterwards.
func (a *HeapAllocator) Free(img *HostImage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.live[img]; !ok {
		return ErrNotOwned
	}
	delete(a.live, img)
	img.Data = nil
	return nil
}

// Live returns the number of images allocated and not yet freed.
func (a *HeapAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// WeightImage is a borrowed reference to a HostImage owned by an
// Allocator. BeamSettings stores it without taking ownership: it never
// copies or frees the image, and the image must outlive every
// BeamSettings that refers to it.
//
// Writers and readers of the underlying buffer coordinate outside this
// package; the usual discipline is to fill the weights once during plan
// setup and treat them as read-only during dose calculation.
type WeightImage struct {
	img *HostImage
}

// Borrow wraps img without taking ownership.
func Borrow(img *HostImage) WeightImage {
	return WeightImage{img: img}
}

// Image returns the borrowed image itself, not a copy.
func (w WeightImage) Image() *HostImage {
	return w.img
}

// Valid reports whether w refers to an image.
func (w WeightImage) Valid() bool {
	return w.img != nil
}
