// Package sampler converts the raw device position stream into a filtered,
// validated sequence of accepted coordinates.
//
// Each update runs through an accuracy gate, 6-decimal precision
// normalization, per-axis noise filtering and an implausible-jump check, in
// that order. An update is either consumed fully or dropped with no partial
// state mutation.
package sampler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juannvilchez/ciudadseguraappi/pkg/geo"
	"github.com/juannvilchez/ciudadseguraappi/pkg/kalman"
	"github.com/juannvilchez/ciudadseguraappi/pkg/logx"
	"github.com/juannvilchez/ciudadseguraappi/pkg/metrics"
)

// PositionSample is one raw device reading. Ephemeral: consumed once by the
// sampler, never persisted.
type PositionSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	AccuracyM float64   `json:"accuracy_m"`
	Timestamp time.Time `json:"timestamp"`
}

// WatchOptions are advisory hints passed to the underlying position service
type WatchOptions struct {
	IntervalTarget time.Duration `json:"interval_target"`
	MinDistanceM   float64       `json:"min_distance_m"`
}

// Subscription is a handle on an active position watch
type Subscription interface {
	Remove()
}

// PositionSource abstracts the device's position service
type PositionSource interface {
	// Current returns a single position fix, used to satisfy the
	// "current coordinate available" activation precondition.
	Current(ctx context.Context) (PositionSample, error)

	// Watch begins continuous observation and invokes fn on every fix.
	// It fails when location access is not granted; that error is surfaced
	// to the caller and never retried here.
	Watch(opts WatchOptions, fn func(PositionSample)) (Subscription, error)
}

// Config holds sampler configuration
type Config struct {
	AccuracyLimitM float64       `json:"accuracy_limit_m"` // drop fixes worse than this
	JumpLimitM     float64       `json:"jump_limit_m"`     // drop teleports beyond this
	IntervalTarget time.Duration `json:"interval_target"`  // advisory reporting interval
	MinDistanceM   float64       `json:"min_distance_m"`   // advisory minimum movement
}

// DefaultConfig returns the production sampling thresholds
func DefaultConfig() Config {
	return Config{
		AccuracyLimitM: 15,
		JumpLimitM:     100,
		IntervalTarget: 3 * time.Second,
		MinDistanceM:   1,
	}
}

// Sampler gates and filters raw position updates. One instance is created per
// alert episode so the axis filters always start cold.
type Sampler struct {
	source  PositionSource
	config  Config
	logger  *logx.Logger
	metrics *metrics.Pipeline

	mu           sync.Mutex
	sub          Subscription
	latFilter    *kalman.Filter
	lngFilter    *kalman.Filter
	lastAccepted *geo.Coordinate
}

// New creates a Sampler over the given position source
func New(source PositionSource, config Config, logger *logx.Logger, m *metrics.Pipeline) *Sampler {
	return &Sampler{
		source:  source,
		config:  config,
		logger:  logger,
		metrics: m,
	}
}

// Current returns one immediate fix from the underlying source
func (s *Sampler) Current(ctx context.Context) (PositionSample, error) {
	return s.source.Current(ctx)
}

// Start begins position observation and invokes callback with every accepted
// coordinate. Starting an already-started sampler is a no-op. The axis filters
// and the last-accepted coordinate are reset on every Start.
func (s *Sampler) Start(callback func(geo.Coordinate)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		return nil
	}

	s.latFilter = kalman.NewFilter()
	s.lngFilter = kalman.NewFilter()
	s.lastAccepted = nil

	opts := WatchOptions{
		IntervalTarget: s.config.IntervalTarget,
		MinDistanceM:   s.config.MinDistanceM,
	}
	sub, err := s.source.Watch(opts, func(sample PositionSample) {
		s.processUpdate(sample, callback)
	})
	if err != nil {
		return fmt.Errorf("failed to start position watch: %w", err)
	}
	s.sub = sub

	s.logger.Info("location sampling started",
		"interval_target", opts.IntervalTarget.String(),
		"accuracy_limit_m", s.config.AccuracyLimitM,
	)
	return nil
}

// Stop releases the underlying subscription. Safe to call when already stopped.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub == nil {
		return
	}
	s.sub.Remove()
	s.sub = nil
	s.logger.Info("location sampling stopped")
}

// Running reports whether a position watch is active
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil
}

// processUpdate runs one raw fix through the acceptance pipeline. Updates are
// handled one at a time to completion, in delivery order.
func (s *Sampler) processUpdate(sample PositionSample, callback func(geo.Coordinate)) {
	s.mu.Lock()
	if s.sub == nil {
		// Late delivery after Stop; the episode is over.
		s.mu.Unlock()
		return
	}

	if sample.AccuracyM > s.config.AccuracyLimitM {
		s.metrics.SampleDropped(metrics.DropAccuracy)
		s.logger.Debug("sample dropped by accuracy gate",
			"accuracy_m", sample.AccuracyM,
			"limit_m", s.config.AccuracyLimitM,
		)
		s.mu.Unlock()
		return
	}

	lat := geo.Round6(sample.Latitude)
	lng := geo.Round6(sample.Longitude)

	// Snapshot the filters so a jump rejection leaves them untouched.
	latBefore := *s.latFilter
	lngBefore := *s.lngFilter

	filteredLat := geo.Round6(s.latFilter.Filter(lat, sample.AccuracyM))
	filteredLng := geo.Round6(s.lngFilter.Filter(lng, sample.AccuracyM))

	if s.lastAccepted != nil {
		dist := geo.DistanceMeters(s.lastAccepted.Latitude, s.lastAccepted.Longitude, filteredLat, filteredLng)
		if dist > s.config.JumpLimitM {
			*s.latFilter = latBefore
			*s.lngFilter = lngBefore
			s.metrics.SampleDropped(metrics.DropJump)
			s.logger.Debug("sample dropped as implausible jump",
				"distance_m", dist,
				"limit_m", s.config.JumpLimitM,
			)
			s.mu.Unlock()
			return
		}
	}

	coord := geo.Coordinate{Latitude: filteredLat, Longitude: filteredLng}
	s.lastAccepted = &coord
	s.metrics.SampleAccepted()
	s.mu.Unlock()

	callback(coord)
}

// LastAccepted returns the most recent accepted coordinate, or false when no
// sample has been accepted since the last Start.
func (s *Sampler) LastAccepted() (geo.Coordinate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastAccepted == nil {
		return geo.Coordinate{}, false
	}
	return *s.lastAccepted, true
}
