package links

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rangeview/internal/core/domain"
	"rangeview/internal/core/ports"
	"rangeview/pkg/config"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var _ ports.LinkFactory = (*Factory)(nil)

func TestICEServers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.WebRTC.ICEServers = append(cfg.WebRTC.ICEServers, config.ICEServer{
		URLs:       []string{"turn:relay.example:3478"},
		Username:   "viewer",
		Credential: "secret",
	})

	servers := ICEServers(cfg)
	require.Len(t, servers, 3)
	assert.Equal(t, []string{"turn:relay.example:3478"}, servers[2].URLs)
	assert.Equal(t, "viewer", servers[2].Username)
	assert.Equal(t, "secret", servers[2].Credential)
}

func TestFactory_RejectsInvalidCamera(t *testing.T) {
	f, err := NewFactory(config.DefaultConfig(), nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = f.NewMediaLink("lane 1")
	assert.ErrorIs(t, err, domain.ErrInvalidCameraID)
	_, err = f.NewEventLink("")
	assert.ErrorIs(t, err, domain.ErrEmptyCameraID)
}

func TestFactory_MediaLinkStartsIdle(t *testing.T) {
	f, err := NewFactory(config.DefaultConfig(), nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	media, err := f.NewMediaLink("lane-1")
	require.NoError(t, err)
	defer media.Close()
	assert.False(t, media.Status().Playing)
	assert.NotNil(t, f.Corners())
}

func TestFactory_EventLinkReceivesHits(t *testing.T) {
	upgrader := websocket.Upgrader{}
	paths := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hit","tip":[10,20],"inside":true}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Events.BaseURL = "ws" + strings.TrimPrefix(server.URL, "http")

	f, err := NewFactory(cfg, nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	link, err := f.NewEventLink("lane-1")
	require.NoError(t, err)
	defer link.Close()

	messages := make(chan domain.Message, 1)
	link.OnMessage(func(msg domain.Message) { messages <- msg })
	require.NoError(t, link.Connect())

	select {
	case msg := <-messages:
		hit, ok := msg.(domain.HitMessage)
		require.True(t, ok)
		assert.Equal(t, domain.Point{X: 10, Y: 20}, hit.Point)
		require.NotNil(t, hit.Inside)
		assert.True(t, *hit.Inside)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
	assert.Equal(t, "/hit/lane-1", <-paths)
	assert.Eventually(t, func() bool {
		return link.Status().State == domain.ChannelStateOpen
	}, time.Second, 10*time.Millisecond)
}
