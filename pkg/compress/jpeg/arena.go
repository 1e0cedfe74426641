package jpeg

import (
	"fmt"
	"math"
)

// DefaultMaxMemory bounds the scratch memory of one decode or encode call.
const DefaultMaxMemory = 512 << 20

// arena accounts for every large buffer a single call allocates. Nothing is
// freed individually; the buffers go away together when the call returns.
type arena struct {
	limit int64
	used  int64
}

func newArena(limit int64) *arena {
	if limit <= 0 {
		limit = DefaultMaxMemory
	}
	return &arena{limit: limit}
}

// reserve checks and books n elements of size bytes each.
func (a *arena) reserve(n, size int) error {
	if n <= 0 || size <= 0 {
		return fmt.Errorf("%w: zero-sized allocation", ErrInvalidData)
	}
	if int64(n) > math.MaxInt64/int64(size) {
		return fmt.Errorf("%w: allocation of %d x %d bytes overflows", ErrImageTooLarge, n, size)
	}
	b := int64(n) * int64(size)
	if b > a.limit {
		return fmt.Errorf("%w: allocation of %d bytes exceeds limit %d", ErrImageTooLarge, b, a.limit)
	}
	if a.used+b > a.limit {
		return fmt.Errorf("%w: %d bytes in use, %d more requested, limit %d", ErrOutOfMemory, a.used, b, a.limit)
	}
	a.used += b
	return nil
}

func (a *arena) int32s(n int) ([]int32, error) {
	if err := a.reserve(n, 4); err != nil {
		return nil, err
	}
	return make([]int32, n), nil
}

func (a *arena) bytes(n int) ([]byte, error) {
	if err := a.reserve(n, 1); err != nil {
		return nil, err
	}
	return make([]byte, n), nil
}

// mul multiplies non-negative dimensions, reporting overflow as a too-large
// image rather than wrapping.
func mul(dims ...int) (int, error) {
	p := 1
	for _, d := range dims {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension %d", ErrInvalidData, d)
		}
		if d != 0 && p > math.MaxInt32/d {
			return 0, fmt.Errorf("%w: dimensions %v overflow", ErrImageTooLarge, dims)
		}
		p *= d
	}
	return p, nil
}
