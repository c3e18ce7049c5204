// mama.go implements the MESA Adaptive Moving Average (MAMA) indicator.

package indicator

import (
	"sync"

	indicators "github.com/lmpizarro/go_ehlers_indicators"
	"golang.org/x/exp/constraints"
)

// MAMA is a MESA Adaptive Moving Average over a sliding window of the last
// len(window) measurements. Until the window is full the raw measurement
// is returned.
type MAMA[T constraints.Integer | constraints.Float] struct {
	FastLimit float64
	SlowLimit float64

	locker  sync.Mutex
	window  []float64
	ordered []float64
	next    int
	count   int
	last    T
}

var _ MovingAverage[int64] = (*MAMA[int64])(nil)

func NewMAMADefault[T constraints.Integer | constraints.Float](
	n int,
) *MAMA[T] {
	return NewMAMA[T](n, 0.5, 0.05)
}

func NewMAMA[T constraints.Integer | constraints.Float](
	n int,
	fastLimit float64,
	slowLimit float64,
) *MAMA[T] {
	if n < 1 {
		n = 1
	}
	return &MAMA[T]{
		FastLimit: fastLimit,
		SlowLimit: slowLimit,
		window:    make([]float64, n),
		ordered:   make([]float64, n),
	}
}

func (m *MAMA[T]) Update(v T) T {
	m.locker.Lock()
	defer m.locker.Unlock()

	m.window[m.next] = float64(v)
	m.next = (m.next + 1) % len(m.window)
	m.count++
	if m.count < len(m.window) {
		m.last = v
		return v
	}

	// window   3 4 5 6 7 0 1 2
	//                    ^ next
	// ordered  0 1 2 3 4 5 6 7
	copy(m.ordered, m.window[m.next:])
	copy(m.ordered[len(m.window)-m.next:], m.window[:m.next])

	result := indicators.MAMA(m.ordered, m.FastLimit, m.SlowLimit)
	m.last = T(result[len(result)-1])
	return m.last
}

// Last returns the value returned by the latest Update.
func (m *MAMA[T]) Last() T {
	m.locker.Lock()
	defer m.locker.Unlock()
	return m.last
}

// Reset forgets all the measurements.
func (m *MAMA[T]) Reset() {
	m.locker.Lock()
	defer m.locker.Unlock()
	clear(m.window)
	m.next = 0
	m.count = 0
	var zero T
	m.last = zero
}

func (m *MAMA[T]) InitPeriod() int64 {
	return int64(len(m.window))
}

func (m *MAMA[T]) Valid() bool {
	m.locker.Lock()
	defer m.locker.Unlock()
	return m.count >= len(m.window)
}
