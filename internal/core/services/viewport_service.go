package services

import (
	"sync"
	"time"

	"rangeview/internal/core/domain"
	"rangeview/internal/core/ports"
	"rangeview/pkg/retry"
)

// DefaultDebounce collapses a resize burst into one measurement.
const DefaultDebounce = 100 * time.Millisecond

// ViewportTracker keeps the last known rendered box of the video surface
// and notifies subscribers when it changes.
type ViewportTracker struct {
	measurer  ports.Measurer
	debounce  time.Duration
	afterFunc retry.AfterFunc

	mu          sync.Mutex
	box         domain.ViewportBox
	known       bool
	timer       retry.Timer
	generation  uint64
	closed      bool
	subscribers []func(domain.ViewportBox)

	deliverMu sync.Mutex
}

func NewViewportTracker(measurer ports.Measurer, debounce time.Duration, afterFunc retry.AfterFunc) *ViewportTracker {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if afterFunc == nil {
		afterFunc = retry.RealAfterFunc
	}
	return &ViewportTracker{
		measurer:  measurer,
		debounce:  debounce,
		afterFunc: afterFunc,
	}
}

// Subscribe registers fn for box changes. Subscribers run one at a time.
func (t *ViewportTracker) Subscribe(fn func(domain.ViewportBox)) {
	t.mu.Lock()
	t.subscribers = append(t.subscribers, fn)
	t.mu.Unlock()
}

// Mount takes the first measurement immediately.
func (t *ViewportTracker) Mount() {
	t.measure(0, false)
}

// Resize signals a possible size change. Measurement happens once the
// signals have been quiet for the debounce window.
func (t *ViewportTracker) Resize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.generation++
	gen := t.generation
	t.timer = t.afterFunc(t.debounce, func() { t.measure(gen, true) })
}

// Box returns the last measured box. ok is false until the first valid measurement.
func (t *ViewportTracker) Box() (domain.ViewportBox, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.box, t.known
}

func (t *ViewportTracker) Close() {
	t.mu.Lock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	t.deliverMu.Lock()
	t.deliverMu.Unlock()
}

func (t *ViewportTracker) measure(gen uint64, debounced bool) {
	box, ok := t.measurer.Measure()

	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	if t.closed || (debounced && gen != t.generation) {
		t.mu.Unlock()
		return
	}
	if debounced {
		t.timer = nil
	}
	if !ok || box.Validate() != nil {
		t.mu.Unlock()
		return
	}
	if t.known && t.box == box {
		t.mu.Unlock()
		return
	}
	t.box = box
	t.known = true
	subscribers := append(([]func(domain.ViewportBox))(nil), t.subscribers...)
	t.mu.Unlock()

	for _, fn := range subscribers {
		fn(box)
	}
}

// SurfaceSize is a Measurer fed by the host, e.g. from resize requests.
type SurfaceSize struct {
	mu    sync.Mutex
	box   domain.ViewportBox
	known bool
}

func (s *SurfaceSize) Set(box domain.ViewportBox) error {
	if err := box.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.box = box
	s.known = true
	s.mu.Unlock()
	return nil
}

func (s *SurfaceSize) Measure() (domain.ViewportBox, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.box, s.known
}
