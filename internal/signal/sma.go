// Package signal derives trade signals from daily closes using a simple
// moving average crossing rule.
package signal

// SMA is a rolling simple moving average over a fixed window. Add is O(1):
// a ring buffer holds the window and a running sum replaces recomputation.
type SMA struct {
	period int
	buf    []float64
	head   int
	count  int
	sum    float64
}

// NewSMA creates a rolling average over period values. period must be at
// least 1; callers validate upstream.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

// Add pushes a value into the window, evicting the oldest once full.
func (s *SMA) Add(v float64) {
	if s.count == s.period {
		s.sum -= s.buf[s.head]
	} else {
		s.count++
	}
	s.buf[s.head] = v
	s.sum += v
	s.head = (s.head + 1) % s.period
}

// Ready reports whether the window holds a full period of values.
func (s *SMA) Ready() bool {
	return s.count == s.period
}

// Count returns the number of values currently in the window.
func (s *SMA) Count() int {
	return s.count
}

// Value returns the current average. ok is false until the window is full.
func (s *SMA) Value() (v float64, ok bool) {
	if !s.Ready() {
		return 0, false
	}
	return s.sum / float64(s.period), true
}
