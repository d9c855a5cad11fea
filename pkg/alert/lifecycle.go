// Package alert implements the panic-alert episode state machine.
//
// An episode runs from Activate to one of three ends: manual deactivation,
// automatic 20-minute expiry, or a server-pushed remote stop. Every end path
// performs the same local cleanup; they differ only in whether the server is
// notified and in the message shown to the user. Concurrent triggers are
// resolved by first transition wins: whichever path claims the Active state
// first performs cleanup, the rest observe Inactive and no-op.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/juannvilchez/ciudadseguraappi/pkg/geo"
	"github.com/juannvilchez/ciudadseguraappi/pkg/logx"
	"github.com/juannvilchez/ciudadseguraappi/pkg/metrics"
	"github.com/juannvilchez/ciudadseguraappi/pkg/sampler"
	"github.com/juannvilchez/ciudadseguraappi/pkg/uplink"
)

// State is the lifecycle state
type State int

const (
	Inactive State = iota
	Active
)

// String returns the state name
func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// Credentials supplies the current session identity. Token refresh and
// storage live behind this interface; the lifecycle only consumes the result.
type Credentials interface {
	UserID() (string, error)
	AuthToken() (string, error)
}

// ActionPoster records a user action event on the server
type ActionPoster interface {
	PostAction(action string) error
}

// Notifier surfaces user-visible messages
type Notifier interface {
	Notify(title, message string)
}

// Config holds lifecycle configuration
type Config struct {
	Duration time.Duration `json:"duration"` // episode length before auto-stop
	Tick     time.Duration `json:"tick"`     // countdown granularity
}

// DefaultConfig returns the production 20-minute episode settings
func DefaultConfig() Config {
	return Config{
		Duration: 20 * time.Minute,
		Tick:     time.Second,
	}
}

// Lifecycle drives alert episodes
type Lifecycle struct {
	config     Config
	configured bool
	sampler    *sampler.Sampler
	uplink     *uplink.Client
	actions    ActionPoster
	creds      Credentials
	notifier   Notifier
	logger     *logx.Logger
	metrics    *metrics.Pipeline

	// onSample, when set, observes every accepted coordinate of an episode
	// (journal, operations mirror). Set before the first Activate.
	onSample func(episodeID string, coord geo.Coordinate)

	mu            sync.Mutex
	state         State
	episodeID     string
	userID        string
	token         string
	remaining     int // seconds
	countdownStop chan struct{}
	autoStop      *time.Timer
}

// New creates an Inactive lifecycle. configured reports whether the base API
// URL was resolved; when false every Activate fails with a defined error
// instead of crashing.
func New(config Config, configured bool, smp *sampler.Sampler, up *uplink.Client, actions ActionPoster, creds Credentials, notifier Notifier, logger *logx.Logger, m *metrics.Pipeline) *Lifecycle {
	if config.Duration <= 0 {
		config.Duration = 20 * time.Minute
	}
	if config.Tick <= 0 {
		config.Tick = time.Second
	}
	return &Lifecycle{
		config:     config,
		configured: configured,
		sampler:    smp,
		uplink:     up,
		actions:    actions,
		creds:      creds,
		notifier:   notifier,
		logger:     logger,
		metrics:    m,
	}
}

// SetSampleHook registers an observer for accepted coordinates
func (l *Lifecycle) SetSampleHook(fn func(episodeID string, coord geo.Coordinate)) {
	l.onSample = fn
}

// Activate starts an alert episode. Preconditions: the base API URL is
// configured, a valid token is obtainable, and a current coordinate is
// available. Any unmet precondition fails user-visibly with no state change.
func (l *Lifecycle) Activate(ctx context.Context) error {
	l.mu.Lock()
	if l.state == Active {
		l.mu.Unlock()
		return fmt.Errorf("alert already active")
	}
	l.mu.Unlock()

	if !l.configured {
		return fmt.Errorf("alert unavailable: API URL not configured")
	}

	userID, err := l.creds.UserID()
	if err != nil {
		return fmt.Errorf("no current session: %w", err)
	}
	token, err := l.creds.AuthToken()
	if err != nil {
		return fmt.Errorf("no valid credential: %w", err)
	}
	if _, err := l.sampler.Current(ctx); err != nil {
		return fmt.Errorf("current position unavailable: %w", err)
	}

	if err := l.actions.PostAction("alerta"); err != nil {
		return fmt.Errorf("failed to notify alert activation: %w", err)
	}

	episodeID := uuid.New().String()
	callback := func(coord geo.Coordinate) {
		l.uplink.Send(coord, userID, token)
		if l.onSample != nil {
			l.onSample(episodeID, coord)
		}
	}
	if err := l.sampler.Start(callback); err != nil {
		return fmt.Errorf("failed to start location sampling: %w", err)
	}

	l.mu.Lock()
	if l.state == Active {
		// Lost a race with a concurrent Activate.
		l.mu.Unlock()
		return fmt.Errorf("alert already active")
	}
	l.state = Active
	l.episodeID = episodeID
	l.userID = userID
	l.token = token
	l.remaining = int(l.config.Duration / l.config.Tick)
	l.countdownStop = make(chan struct{})
	l.autoStop = time.AfterFunc(l.config.Duration, l.autoExpire)
	stop := l.countdownStop
	l.mu.Unlock()

	go l.countdown(stop)

	l.metrics.EpisodeStarted()
	l.logger.Info("alert activated",
		"episode_id", episodeID,
		"user_id", userID,
		"duration", l.config.Duration.String(),
	)
	l.notifier.Notify("Alerta Activada", "El envío de coordenadas se ha iniciado.")
	return nil
}

// countdown decrements the visible timer once per tick until the episode ends
func (l *Lifecycle) countdown(stop chan struct{}) {
	ticker := time.NewTicker(l.config.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			if l.state != Active {
				l.mu.Unlock()
				return
			}
			if l.remaining > 0 {
				l.remaining--
			}
			remaining := l.remaining
			l.mu.Unlock()

			l.metrics.Countdown(remaining)
			if remaining == 60 {
				l.logger.Info("alert episode entering final minute")
			}
			if remaining == 0 {
				// The auto-stop timer owns the expiry transition.
				return
			}
		}
	}
}

// episode identifies one activation for the end paths
type episode struct {
	id     string
	userID string
	token  string
}

// claimEnd atomically takes the Active -> Inactive transition and performs
// the shared local cleanup. ok is false when another path already ended the
// episode, making the caller a no-op.
func (l *Lifecycle) claimEnd() (ep episode, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Active {
		return episode{}, false
	}
	l.state = Inactive
	l.remaining = 0
	ep = episode{id: l.episodeID, userID: l.userID, token: l.token}

	// Both timers are cancelled on every end path and the handles nulled so a
	// stale fire after teardown is a no-op.
	if l.countdownStop != nil {
		close(l.countdownStop)
		l.countdownStop = nil
	}
	if l.autoStop != nil {
		l.autoStop.Stop()
		l.autoStop = nil
	}
	return ep, true
}

// Deactivate ends the episode manually, notifying the server. Calling it
// while Inactive is a no-op.
func (l *Lifecycle) Deactivate() error {
	ep, ok := l.claimEnd()
	if !ok {
		return nil
	}
	l.sampler.Stop()

	l.metrics.EpisodeEnded(metrics.EndManual)
	l.logger.Info("alert deactivated", "episode_id", ep.id, "reason", metrics.EndManual)
	l.notifier.Notify("Alerta Desactivada", "El envío de coordenadas se ha detenido.")

	// Local state is already consistent; the stop notice is best-effort and
	// its failure is only surfaced.
	if err := l.uplink.StopLocation(ep.userID, ep.token); err != nil {
		return fmt.Errorf("deactivated locally, stop notice failed: %w", err)
	}
	return nil
}

// autoExpire ends the episode when the 20-minute timer fires. The server
// already time-boxes the alert, so no stop notice is sent.
func (l *Lifecycle) autoExpire() {
	ep, ok := l.claimEnd()
	if !ok {
		return
	}
	l.sampler.Stop()

	l.metrics.EpisodeEnded(metrics.EndExpired)
	l.logger.Info("alert expired", "episode_id", ep.id, "reason", metrics.EndExpired)
	l.notifier.Notify("Alerta Completada", "El envío de coordenadas se ha detenido automáticamente.")
}

// HandleRemoteStop ends the episode on a server-pushed stop for the current
// user. Stops addressed to other users are ignored. The server initiated the
// stop, so no additional call is made.
func (l *Lifecycle) HandleRemoteStop(userID string) {
	l.mu.Lock()
	current := l.userID
	active := l.state == Active
	l.mu.Unlock()

	if !active || userID != current {
		l.logger.Debug("remote stop ignored", "user_id", userID, "active", active)
		return
	}
	ep, ok := l.claimEnd()
	if !ok {
		return
	}
	l.sampler.Stop()

	l.metrics.EpisodeEnded(metrics.EndRemote)
	l.logger.Info("alert stopped remotely", "episode_id", ep.id, "reason", metrics.EndRemote)
	l.notifier.Notify("Alerta Completada", "El envío de coordenadas se ha detenido.")
}

// Close tears the lifecycle down without server calls or user messages.
// Best-effort cleanup for process exit.
func (l *Lifecycle) Close() {
	ep, ok := l.claimEnd()
	if !ok {
		return
	}
	l.sampler.Stop()
	l.logger.Info("alert lifecycle closed", "episode_id", ep.id)
}

// State returns the current lifecycle state
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// EpisodeID returns the id of the active episode, empty when Inactive
func (l *Lifecycle) EpisodeID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Active {
		return ""
	}
	return l.episodeID
}

// Remaining returns the seconds left in the active episode, 0 when Inactive
func (l *Lifecycle) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Active {
		return 0
	}
	return l.remaining
}

// FormatRemaining renders the countdown as zero-padded mm:ss
func (l *Lifecycle) FormatRemaining() string {
	return FormatSeconds(l.Remaining())
}

// FormatSeconds renders a second count as zero-padded mm:ss
func FormatSeconds(s int) string {
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
