package services

import (
	"context"
	"sort"
	"sync"

	"rangeview/internal/core/domain"
	"rangeview/pkg/logger"

	"go.uber.org/zap"
)

// OverlayStore is an OverlayRenderer that keeps the latest frame for hosts
// that poll instead of drawing.
type OverlayStore struct {
	mu      sync.Mutex
	overlay domain.Overlay
	frames  uint64
}

func (s *OverlayStore) Render(overlay domain.Overlay) {
	s.mu.Lock()
	s.overlay = overlay
	s.frames++
	s.mu.Unlock()
}

// Latest returns the last rendered frame and the number of frames so far.
func (s *OverlayStore) Latest() (domain.Overlay, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay, s.frames
}

func (s *OverlayStore) reset() {
	s.mu.Lock()
	s.overlay = domain.Overlay{Status: domain.OverlayWaitingGeometry}
	s.mu.Unlock()
}

// ViewSnapshot is the externally visible state of a view.
type ViewSnapshot struct {
	ID       domain.ViewID         `json:"id"`
	CameraID domain.CameraID       `json:"camera_id,omitempty"`
	Session  *domain.SessionStatus `json:"session,omitempty"`
	Overlay  domain.Overlay        `json:"overlay"`
	Frames   uint64                `json:"frames"`
}

// View is one hosting surface. It shows at most one camera; switching
// cameras fully closes the old session before the new one starts.
type View struct {
	id      domain.ViewID
	cfg     SessionConfig
	deps    SessionDeps
	surface *SurfaceSize
	store   *OverlayStore
	ctx     context.Context
	log     *logger.ContextLogger

	navMu sync.Mutex

	mu        sync.Mutex
	session   *Session
	unmounted bool
}

func NewView(id domain.ViewID, cfg SessionConfig, deps SessionDeps) *View {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	surface := &SurfaceSize{}
	store := &OverlayStore{}
	deps.Measurer = surface
	deps.Renderer = store

	return &View{
		id:      id,
		cfg:     cfg,
		deps:    deps,
		surface: surface,
		store:   store,
		ctx:     logger.WithView(context.Background(), string(id)),
		log:     logger.NewContextLogger(deps.Logger),
	}
}

func (v *View) ID() domain.ViewID { return v.id }

// Navigate shows cameraID. Navigating to the camera already shown is a no-op.
func (v *View) Navigate(cameraID domain.CameraID) error {
	if err := cameraID.Validate(); err != nil {
		return err
	}

	v.navMu.Lock()
	defer v.navMu.Unlock()

	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return domain.ErrSessionClosed
	}
	current := v.session
	if current != nil && current.CameraID() == cameraID {
		v.mu.Unlock()
		return nil
	}
	v.session = nil
	v.mu.Unlock()

	if current != nil {
		current.Close()
		v.log.LogInfo(v.ctx, "closed session for camera switch",
			zap.String("from", current.CameraID().String()),
			zap.String("to", cameraID.String()),
		)
	}
	v.store.reset()

	session, err := NewSession(cameraID, v.cfg, v.deps)
	if err != nil {
		return err
	}
	if err := session.Start(); err != nil {
		session.Close()
		return err
	}

	v.mu.Lock()
	v.session = session
	v.mu.Unlock()

	v.log.LogInfo(v.ctx, "view navigated", zap.String("camera_id", cameraID.String()), zap.String("session_id", string(session.ID())))
	return nil
}

// Clear closes the current session and leaves the view empty.
func (v *View) Clear() {
	v.navMu.Lock()
	defer v.navMu.Unlock()
	v.closeSession()
}

// Unmount closes the view for good; no reconnection happens afterwards.
func (v *View) Unmount() {
	v.navMu.Lock()
	defer v.navMu.Unlock()

	v.mu.Lock()
	v.unmounted = true
	v.mu.Unlock()
	v.closeSession()
}

func (v *View) closeSession() {
	v.mu.Lock()
	current := v.session
	v.session = nil
	v.mu.Unlock()

	if current != nil {
		current.Close()
		v.store.reset()
	}
}

// Resize records the new surface size and signals the tracker.
func (v *View) Resize(box domain.ViewportBox) error {
	if err := v.surface.Set(box); err != nil {
		return err
	}
	if s := v.current(); s != nil {
		s.Resize()
	}
	return nil
}

func (v *View) Reconnect() error {
	s := v.current()
	if s == nil {
		return domain.ErrSessionClosed
	}
	return s.Reconnect()
}

func (v *View) Snapshot() ViewSnapshot {
	snap := ViewSnapshot{ID: v.id}
	snap.Overlay, snap.Frames = v.store.Latest()
	if s := v.current(); s != nil {
		status := s.Status()
		snap.CameraID = s.CameraID()
		snap.Session = &status
	}
	if snap.Overlay.Status == "" {
		snap.Overlay.Status = domain.OverlayWaitingGeometry
	}
	return snap
}

func (v *View) current() *Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.session
}

// ViewService is the registry of views hosted by the process.
type ViewService struct {
	cfg  SessionConfig
	deps SessionDeps

	mu    sync.Mutex
	views map[domain.ViewID]*View
}

func NewViewService(cfg SessionConfig, deps SessionDeps) *ViewService {
	return &ViewService{
		cfg:   cfg,
		deps:  deps,
		views: make(map[domain.ViewID]*View),
	}
}

// Mount returns the view with the given id, creating it if needed.
func (s *ViewService) Mount(id domain.ViewID) *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[id]
	if !ok {
		v = NewView(id, s.cfg, s.deps)
		s.views[id] = v
	}
	return v
}

func (s *ViewService) View(id domain.ViewID) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[id]
	if !ok {
		return nil, domain.ErrViewNotFound
	}
	return v, nil
}

// Unmount removes the view and closes its session.
func (s *ViewService) Unmount(id domain.ViewID) error {
	s.mu.Lock()
	v, ok := s.views[id]
	delete(s.views, id)
	s.mu.Unlock()

	if !ok {
		return domain.ErrViewNotFound
	}
	v.Unmount()
	return nil
}

// Snapshots returns all views ordered by id.
func (s *ViewService) Snapshots() []ViewSnapshot {
	s.mu.Lock()
	views := make([]*View, 0, len(s.views))
	for _, v := range s.views {
		views = append(views, v)
	}
	s.mu.Unlock()

	sort.Slice(views, func(i, j int) bool { return views[i].id < views[j].id })
	out := make([]ViewSnapshot, 0, len(views))
	for _, v := range views {
		out = append(out, v.Snapshot())
	}
	return out
}

// SystemOnline reports whether every view has a healthy session.
func (s *ViewService) SystemOnline() bool {
	snaps := s.Snapshots()
	if len(snaps) == 0 {
		return false
	}
	statuses := make([]domain.SessionStatus, 0, len(snaps))
	for _, snap := range snaps {
		if snap.Session == nil {
			return false
		}
		statuses = append(statuses, *snap.Session)
	}
	return domain.SystemOnline(statuses...)
}

// Close unmounts every view.
func (s *ViewService) Close() {
	s.mu.Lock()
	views := s.views
	s.views = make(map[domain.ViewID]*View)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, v := range views {
		wg.Add(1)
		go func(v *View) {
			defer wg.Done()
			v.Unmount()
		}(v)
	}
	wg.Wait()
}
