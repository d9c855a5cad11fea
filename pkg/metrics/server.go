// Package metrics exposes Prometheus metrics for the alert location pipeline
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/juannvilchez/ciudadseguraappi/pkg/logx"
)

// Drop reasons for rejected position samples
const (
	DropAccuracy = "accuracy"
	DropJump     = "jump"
)

// Episode end reasons
const (
	EndManual  = "manual"
	EndExpired = "expired"
	EndRemote  = "remote"
)

// Pipeline holds the counters for the panic-alert pipeline. A nil *Pipeline
// is valid and records nothing, so components can run unmetered in tests.
type Pipeline struct {
	registry *prometheus.Registry

	samplesAccepted prometheus.Counter
	samplesDropped  *prometheus.CounterVec

	uplinkSent    prometheus.Counter
	uplinkSkipped prometheus.Counter
	uplinkFailed  prometheus.Counter

	channelReconnects prometheus.Counter
	channelOpen       prometheus.Gauge

	episodesStarted  prometheus.Counter
	episodesEnded    *prometheus.CounterVec
	countdownSeconds prometheus.Gauge
}

// NewPipeline creates pipeline metrics on a private registry
func NewPipeline() *Pipeline {
	p := &Pipeline{registry: prometheus.NewRegistry()}

	p.samplesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertad_samples_accepted_total",
		Help: "Position samples that passed the accuracy gate and jump rejection",
	})
	p.samplesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alertad_samples_dropped_total",
		Help: "Position samples dropped by the acceptance pipeline",
	}, []string{"reason"})

	p.uplinkSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertad_uplink_sent_total",
		Help: "Coordinate deliveries issued to the alert-ingestion endpoint",
	})
	p.uplinkSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertad_uplink_skipped_total",
		Help: "Coordinate deliveries skipped because one was already in flight",
	})
	p.uplinkFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertad_uplink_failed_total",
		Help: "Coordinate deliveries that failed at the transport level",
	})

	p.channelReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertad_channel_reconnects_total",
		Help: "Reconnection attempts made by the live notification channel",
	})
	p.channelOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alertad_channel_open",
		Help: "Whether the live notification channel is currently open (0/1)",
	})

	p.episodesStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertad_episodes_started_total",
		Help: "Alert episodes activated",
	})
	p.episodesEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alertad_episodes_ended_total",
		Help: "Alert episodes ended, by reason",
	}, []string{"reason"})
	p.countdownSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alertad_countdown_seconds",
		Help: "Seconds remaining in the active alert episode",
	})

	p.registry.MustRegister(
		p.samplesAccepted, p.samplesDropped,
		p.uplinkSent, p.uplinkSkipped, p.uplinkFailed,
		p.channelReconnects, p.channelOpen,
		p.episodesStarted, p.episodesEnded, p.countdownSeconds,
	)
	return p
}

// SampleAccepted records an accepted position sample
func (p *Pipeline) SampleAccepted() {
	if p == nil {
		return
	}
	p.samplesAccepted.Inc()
}

// SampleDropped records a dropped position sample
func (p *Pipeline) SampleDropped(reason string) {
	if p == nil {
		return
	}
	p.samplesDropped.WithLabelValues(reason).Inc()
}

// UplinkSent records an issued coordinate delivery
func (p *Pipeline) UplinkSent() {
	if p == nil {
		return
	}
	p.uplinkSent.Inc()
}

// UplinkSkipped records a delivery superseded by one already in flight
func (p *Pipeline) UplinkSkipped() {
	if p == nil {
		return
	}
	p.uplinkSkipped.Inc()
}

// UplinkFailed records a transport-level delivery failure
func (p *Pipeline) UplinkFailed() {
	if p == nil {
		return
	}
	p.uplinkFailed.Inc()
}

// ChannelReconnect records one reconnection attempt
func (p *Pipeline) ChannelReconnect() {
	if p == nil {
		return
	}
	p.channelReconnects.Inc()
}

// ChannelOpen records whether the live channel is open
func (p *Pipeline) ChannelOpen(open bool) {
	if p == nil {
		return
	}
	if open {
		p.channelOpen.Set(1)
	} else {
		p.channelOpen.Set(0)
	}
}

// EpisodeStarted records an activated alert episode
func (p *Pipeline) EpisodeStarted() {
	if p == nil {
		return
	}
	p.episodesStarted.Inc()
}

// EpisodeEnded records an ended alert episode
func (p *Pipeline) EpisodeEnded(reason string) {
	if p == nil {
		return
	}
	p.episodesEnded.WithLabelValues(reason).Inc()
	p.countdownSeconds.Set(0)
}

// Countdown records the seconds remaining in the active episode
func (p *Pipeline) Countdown(seconds int) {
	if p == nil {
		return
	}
	p.countdownSeconds.Set(float64(seconds))
}

// Server serves the pipeline metrics over HTTP
type Server struct {
	pipeline *Pipeline
	logger   *logx.Logger
	server   *http.Server
}

// NewServer creates a metrics server for the given pipeline
func NewServer(pipeline *Pipeline, logger *logx.Logger) *Server {
	return &Server{
		pipeline: pipeline,
		logger:   logger,
	}
}

// Start begins serving /metrics and /health in the background
func (s *Server) Start(port int) error {
	s.logger.Info("starting metrics server", "port", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.pipeline.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.healthHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err.Error())
		}
	}()

	return nil
}

// Stop shuts the metrics server down
func (s *Server) Stop() error {
	s.logger.Info("stopping metrics server")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// healthHandler provides a simple health check endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}
