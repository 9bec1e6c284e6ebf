package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"rangeview/internal/core/domain"
	"rangeview/internal/core/ports"
	"rangeview/internal/core/services"
	"rangeview/internal/infrastructure/middleware"
	"rangeview/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubMedia struct {
	mu         sync.Mutex
	state      domain.PeerState
	reconnects int
}

func (m *stubMedia) OnStatus(func(domain.MediaStatus)) {}
func (m *stubMedia) Open() error                       { return nil }
func (m *stubMedia) Close()                            {}

func (m *stubMedia) Reconnect() error {
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
	return nil
}

func (m *stubMedia) Status() domain.MediaStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.MediaStatus{State: m.state}
}

type stubEvents struct {
	mu     sync.Mutex
	state  domain.ChannelState
	manual int
}

func (e *stubEvents) OnMessage(func(domain.Message))                      {}
func (e *stubEvents) OnStatus(func(domain.ChannelStatus))                 {}
func (e *stubEvents) SetViewportSource(func() (domain.ViewportBox, bool)) {}
func (e *stubEvents) Connect() error                                      { return nil }
func (e *stubEvents) Send(any) error                                      { return domain.ErrChannelNotOpen }
func (e *stubEvents) Close()                                              {}

func (e *stubEvents) ManualReconnect() error {
	e.mu.Lock()
	e.manual++
	e.mu.Unlock()
	return nil
}

func (e *stubEvents) Status() domain.ChannelStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.ChannelStatus{State: e.state}
}

type stubLinks struct {
	mu     sync.Mutex
	events []*stubEvents
	media  []*stubMedia
	online bool
}

func (l *stubLinks) NewMediaLink(domain.CameraID) (ports.MediaLink, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := &stubMedia{state: domain.PeerStateNew}
	if l.online {
		m.state = domain.PeerStateConnected
	}
	l.media = append(l.media, m)
	return m, nil
}

func (l *stubLinks) NewEventLink(domain.CameraID) (ports.EventLink, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := &stubEvents{state: domain.ChannelStateConnecting}
	if l.online {
		e.state = domain.ChannelStateOpen
	}
	l.events = append(l.events, e)
	return e, nil
}

func setupRouter(t *testing.T, links *stubLinks) (*gin.Engine, *services.ViewService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	views := services.NewViewService(services.SessionConfig{}, services.SessionDeps{
		Links:  links,
		Logger: zaptest.NewLogger(t),
	})
	t.Cleanup(views.Close)

	health := monitoring.NewHealthChecker()
	health.AddCheck("views", func(context.Context) error {
		if !views.SystemOnline() {
			return errors.New("not every view is online")
		}
		return nil
	}, false, 0)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	NewViewHandler(views, health).SetupRoutes(router)
	return router, views
}

func perform(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestViewHandler_NavigateAndGet(t *testing.T) {
	router, _ := setupRouter(t, &stubLinks{})

	w := perform(router, http.MethodPut, "/views/main/camera/lane-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap services.ViewSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, domain.ViewID("main"), snap.ID)
	assert.Equal(t, domain.CameraID("lane-1"), snap.CameraID)
	require.NotNil(t, snap.Session)
	assert.False(t, snap.Session.Healthy)
	assert.Equal(t, domain.OverlayWaitingGeometry, snap.Overlay.Status)

	w = perform(router, http.MethodGet, "/views/main", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"camera_id":"lane-1"`)
}

func TestViewHandler_Errors(t *testing.T) {
	router, views := setupRouter(t, &stubLinks{})
	views.Mount("main")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown view", http.MethodGet, "/views/missing", "", http.StatusNotFound, "NOT_FOUND"},
		{"invalid camera", http.MethodPut, "/views/main/camera/lane%201", "", http.StatusBadRequest, "INVALID_INPUT"},
		{"resize without body", http.MethodPost, "/views/main/resize", "{}", http.StatusBadRequest, "INVALID_INPUT"},
		{"resize negative", http.MethodPost, "/views/main/resize", `{"width":-1,"height":480}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"reconnect empty view", http.MethodPost, "/views/main/reconnect", "", http.StatusConflict, "NOT_CONNECTED"},
		{"clear unknown view", http.MethodDelete, "/views/other/camera", "", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := perform(router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["error"])
		})
	}
}

func TestViewHandler_RejectedRequestMountsNothing(t *testing.T) {
	router, views := setupRouter(t, &stubLinks{online: true})
	require.Equal(t, http.StatusOK, perform(router, http.MethodPut, "/views/main/camera/lane-1", "").Code)

	w := perform(router, http.MethodPut, "/views/side/camera/lane%201", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = perform(router, http.MethodPost, "/views/wide/resize", `{"width":-1,"height":480}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, err := views.View("side")
	assert.Error(t, err)
	_, err = views.View("wide")
	assert.Error(t, err)
	assert.Len(t, views.Snapshots(), 1)

	w = perform(router, http.MethodGet, "/healthz", "")
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.Contains(t, w.Body.String(), `"system_online":true`)
}

func TestViewHandler_ResizeAndReconnect(t *testing.T) {
	links := &stubLinks{}
	router, views := setupRouter(t, links)

	w := perform(router, http.MethodPost, "/views/main/resize", `{"width":640,"height":480}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	view, err := views.View("main")
	require.NoError(t, err)
	require.NoError(t, view.Navigate("lane-1"))

	w = perform(router, http.MethodPost, "/views/main/reconnect", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	links.mu.Lock()
	defer links.mu.Unlock()
	require.Len(t, links.events, 1)
	assert.Equal(t, 1, links.events[0].manual)
	assert.Equal(t, 0, links.media[0].reconnects)
}

func TestViewHandler_ClearAndUnmount(t *testing.T) {
	router, views := setupRouter(t, &stubLinks{})

	require.Equal(t, http.StatusOK, perform(router, http.MethodPut, "/views/main/camera/lane-1", "").Code)

	w := perform(router, http.MethodDelete, "/views/main/camera", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	view, err := views.View("main")
	require.NoError(t, err)
	assert.Nil(t, view.Snapshot().Session)

	w = perform(router, http.MethodDelete, "/views/main", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	_, err = views.View("main")
	assert.ErrorIs(t, err, domain.ErrViewNotFound)
}

func TestViewHandler_Health(t *testing.T) {
	t.Run("degraded while offline", func(t *testing.T) {
		router, _ := setupRouter(t, &stubLinks{})
		perform(router, http.MethodPut, "/views/main/camera/lane-1", "")

		w := perform(router, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"degraded"`)
		assert.Contains(t, w.Body.String(), `"system_online":false`)
	})

	t.Run("online when every link is up", func(t *testing.T) {
		router, _ := setupRouter(t, &stubLinks{online: true})
		perform(router, http.MethodPut, "/views/main/camera/lane-1", "")

		w := perform(router, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"healthy"`)
		assert.Contains(t, w.Body.String(), `"system_online":true`)
	})
}
