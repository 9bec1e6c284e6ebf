package services

import (
	"sync"
	"time"

	"rangeview/internal/core/domain"
	"rangeview/internal/core/ports"
	"rangeview/pkg/retry"

	"go.uber.org/zap"
)

// DefaultHitLifetime is how long a hit marker stays on screen.
const DefaultHitLifetime = 6 * time.Second

type liveHit struct {
	event domain.HitEvent
	timer retry.Timer
}

// OverlayReconciler combines the latest target geometry, the viewport box
// and live hits into screen-space overlay frames. Hits are kept in detector
// space so a resize re-projects them.
type OverlayReconciler struct {
	renderer  ports.OverlayRenderer
	lifetime  time.Duration
	afterFunc retry.AfterFunc
	now       func() time.Time
	logger    *zap.Logger

	mu       sync.Mutex
	geometry *domain.SourceGeometry
	box      domain.ViewportBox
	hasBox   bool
	hits     []liveHit
	seq      uint64
	closed   bool

	renderMu sync.Mutex
}

func NewOverlayReconciler(renderer ports.OverlayRenderer, lifetime time.Duration, afterFunc retry.AfterFunc, logger *zap.Logger) *OverlayReconciler {
	if lifetime <= 0 {
		lifetime = DefaultHitLifetime
	}
	if afterFunc == nil {
		afterFunc = retry.RealAfterFunc
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverlayReconciler{
		renderer:  renderer,
		lifetime:  lifetime,
		afterFunc: afterFunc,
		now:       time.Now,
		logger:    logger,
	}
}

// SetGeometry replaces the target boundary. Invalid geometry clears the
// boundary instead of keeping a stale one.
func (r *OverlayReconciler) SetGeometry(g domain.SourceGeometry) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if err := g.Validate(); err != nil {
		r.geometry = nil
		r.mu.Unlock()
		r.logger.Warn("discarding target geometry", zap.Error(err))
		r.render()
		return
	}
	g.Points = append([]domain.Point(nil), g.Points...)
	r.geometry = &g
	r.mu.Unlock()

	r.render()
}

func (r *OverlayReconciler) SetViewport(box domain.ViewportBox) {
	if box.Validate() != nil {
		return
	}
	r.mu.Lock()
	if r.closed || (r.hasBox && r.box == box) {
		r.mu.Unlock()
		return
	}
	r.box = box
	r.hasBox = true
	r.mu.Unlock()

	r.render()
}

// AddHit shows a hit for the configured lifetime. Each hit expires on its own.
func (r *OverlayReconciler) AddHit(point domain.Point, inside *bool) domain.HitEvent {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.HitEvent{}
	}
	r.seq++
	event := domain.HitEvent{Seq: r.seq, Point: point, Inside: inside, ReceivedAt: r.now()}
	seq := r.seq
	timer := r.afterFunc(r.lifetime, func() { r.expire(seq) })
	r.hits = append(r.hits, liveHit{event: event, timer: timer})
	r.mu.Unlock()

	r.render()
	return event
}

func (r *OverlayReconciler) expire(seq uint64) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	found := false
	for i, h := range r.hits {
		if h.event.Seq == seq {
			r.hits = append(r.hits[:i], r.hits[i+1:]...)
			found = true
			break
		}
	}
	r.mu.Unlock()

	if found {
		r.render()
	}
}

// Overlay computes the current frame.
func (r *OverlayReconciler) Overlay() domain.Overlay {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlayLocked()
}

func (r *OverlayReconciler) overlayLocked() domain.Overlay {
	if r.geometry == nil {
		return domain.Overlay{Status: domain.OverlayWaitingGeometry, Box: r.box}
	}
	if !r.hasBox {
		return domain.Overlay{Status: domain.OverlayWaitingViewport}
	}

	t := domain.Letterbox(r.geometry.Frame, r.box)
	overlay := domain.Overlay{
		Status:  domain.OverlayReady,
		Box:     r.box,
		Polygon: t.ApplyAll(r.geometry.Points),
	}
	for _, h := range r.hits {
		screen := domain.ScreenHit{
			Seq:       h.event.Seq,
			Point:     t.Apply(h.event.Point),
			Known:     h.event.Inside != nil,
			ExpiresAt: h.event.ReceivedAt.Add(r.lifetime),
		}
		if h.event.Inside != nil {
			screen.Inside = *h.event.Inside
		} else {
			screen.Inside = r.geometry.Contains(h.event.Point)
		}
		overlay.Hits = append(overlay.Hits, screen)
	}
	return overlay
}

// Close cancels pending expiries and stops rendering.
func (r *OverlayReconciler) Close() {
	r.mu.Lock()
	r.closed = true
	for _, h := range r.hits {
		h.timer.Stop()
	}
	r.hits = nil
	r.mu.Unlock()

	r.renderMu.Lock()
	r.renderMu.Unlock()
}

func (r *OverlayReconciler) render() {
	if r.renderer == nil {
		return
	}
	r.renderMu.Lock()
	defer r.renderMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	overlay := r.overlayLocked()
	r.mu.Unlock()

	r.renderer.Render(overlay)
}
