package monitoring

import (
	"time"

	"rangeview/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var mediaStates = []domain.PeerState{
	domain.PeerStateNew,
	domain.PeerStateChecking,
	domain.PeerStateConnected,
	domain.PeerStateDisconnected,
	domain.PeerStateFailed,
	domain.PeerStateClosed,
}

var channelStates = []domain.ChannelState{
	domain.ChannelStateConnecting,
	domain.ChannelStateOpen,
	domain.ChannelStateClosed,
}

// PrometheusCollector implements ports.SessionMetrics.
type PrometheusCollector struct {
	sessionsActive prometheus.Gauge

	mediaState   *prometheus.GaugeVec
	channelState *prometheus.GaugeVec

	negotiationDuration *prometheus.HistogramVec
	reconnectsTotal     *prometheus.CounterVec
	reconnectDelay      *prometheus.HistogramVec
	exhaustedTotal      *prometheus.CounterVec

	messagesTotal        *prometheus.CounterVec
	messagesDroppedTotal *prometheus.CounterVec
	viewportReportsTotal *prometheus.CounterVec
}

// NewPrometheusCollector registers the session metrics on reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rangeview_sessions_active",
			Help: "Number of open viewing sessions",
		}),

		mediaState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rangeview_media_state",
			Help: "Current media transport state per camera (1 for the active state)",
		}, []string{"camera_id", "state"}),

		channelState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rangeview_channel_state",
			Help: "Current event channel state per camera (1 for the active state)",
		}, []string{"camera_id", "state"}),

		negotiationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rangeview_negotiation_duration_seconds",
			Help:    "Duration of offer/answer exchanges",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"result"}),

		reconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rangeview_reconnects_total",
			Help: "Automatic reconnects scheduled, by link",
		}, []string{"camera_id", "link"}),

		reconnectDelay: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rangeview_reconnect_delay_seconds",
			Help:    "Backoff delay before automatic reconnects",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"link"}),

		exhaustedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rangeview_retries_exhausted_total",
			Help: "Times a link gave up reconnecting automatically",
		}, []string{"camera_id", "link"}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rangeview_event_messages_total",
			Help: "Inbound event channel messages by type",
		}, []string{"camera_id", "type"}),

		messagesDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rangeview_event_messages_dropped_total",
			Help: "Event channel messages dropped locally, by reason",
		}, []string{"camera_id", "reason"}),

		viewportReportsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rangeview_viewport_reports_total",
			Help: "video_size reports sent to the detector",
		}, []string{"camera_id"}),
	}
}

func (p *PrometheusCollector) SessionOpened(cameraID domain.CameraID) {
	p.sessionsActive.Inc()
}

func (p *PrometheusCollector) SessionClosed(cameraID domain.CameraID) {
	p.sessionsActive.Dec()

	// Drop per-camera state series; a later session re-creates them
	for _, s := range mediaStates {
		p.mediaState.DeleteLabelValues(string(cameraID), string(s))
	}
	for _, s := range channelStates {
		p.channelState.DeleteLabelValues(string(cameraID), string(s))
	}
}

func (p *PrometheusCollector) MediaStateChanged(cameraID domain.CameraID, state domain.PeerState) {
	for _, s := range mediaStates {
		v := 0.0
		if s == state {
			v = 1
		}
		p.mediaState.WithLabelValues(string(cameraID), string(s)).Set(v)
	}
}

func (p *PrometheusCollector) ChannelStateChanged(cameraID domain.CameraID, state domain.ChannelState) {
	for _, s := range channelStates {
		v := 0.0
		if s == state {
			v = 1
		}
		p.channelState.WithLabelValues(string(cameraID), string(s)).Set(v)
	}
}

func (p *PrometheusCollector) NegotiationFinished(cameraID domain.CameraID, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.negotiationDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (p *PrometheusCollector) ReconnectScheduled(cameraID domain.CameraID, link string, delay time.Duration) {
	p.reconnectsTotal.WithLabelValues(string(cameraID), link).Inc()
	p.reconnectDelay.WithLabelValues(link).Observe(delay.Seconds())
}

func (p *PrometheusCollector) RetriesExhausted(cameraID domain.CameraID, link string) {
	p.exhaustedTotal.WithLabelValues(string(cameraID), link).Inc()
}

func (p *PrometheusCollector) MessageReceived(cameraID domain.CameraID, msgType domain.MessageType) {
	p.messagesTotal.WithLabelValues(string(cameraID), string(msgType)).Inc()
}

func (p *PrometheusCollector) MessageDropped(cameraID domain.CameraID, reason string) {
	p.messagesDroppedTotal.WithLabelValues(string(cameraID), reason).Inc()
}

func (p *PrometheusCollector) ViewportReported(cameraID domain.CameraID) {
	p.viewportReportsTotal.WithLabelValues(string(cameraID)).Inc()
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) SessionOpened(domain.CameraID)                             {}
func (NopMetrics) SessionClosed(domain.CameraID)                             {}
func (NopMetrics) MediaStateChanged(domain.CameraID, domain.PeerState)       {}
func (NopMetrics) ChannelStateChanged(domain.CameraID, domain.ChannelState)  {}
func (NopMetrics) NegotiationFinished(domain.CameraID, time.Duration, error) {}
func (NopMetrics) ReconnectScheduled(domain.CameraID, string, time.Duration) {}
func (NopMetrics) RetriesExhausted(domain.CameraID, string)                  {}
func (NopMetrics) MessageReceived(domain.CameraID, domain.MessageType)       {}
func (NopMetrics) MessageDropped(domain.CameraID, string)                    {}
func (NopMetrics) ViewportReported(domain.CameraID)                          {}
