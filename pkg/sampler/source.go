package sampler

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/juannvilchez/ciudadseguraappi/pkg/logx"
)

// UbusSource reads position fixes from the device location service via
// `ubus call gps info`. Fields may arrive string-encoded depending on the
// firmware, so both encodings are accepted.
type UbusSource struct {
	logger  *logx.Logger
	command string
	args    []string
}

// NewUbusSource creates a source backed by the system GPS service
func NewUbusSource(logger *logx.Logger) *UbusSource {
	return &UbusSource{
		logger:  logger,
		command: "ubus",
		args:    []string{"call", "gps", "info"},
	}
}

// Current returns a single position fix
func (u *UbusSource) Current(ctx context.Context) (PositionSample, error) {
	output, err := exec.CommandContext(ctx, u.command, u.args...).Output()
	if err != nil {
		return PositionSample{}, fmt.Errorf("position service unavailable: %w", err)
	}
	return u.parseFix(output)
}

// parseFix decodes one GPS service response
func (u *UbusSource) parseFix(output []byte) (PositionSample, error) {
	var resp map[string]interface{}
	if err := json.Unmarshal(output, &resp); err != nil {
		return PositionSample{}, fmt.Errorf("failed to parse position fix: %w", err)
	}

	sample := PositionSample{Timestamp: time.Now()}

	var ok bool
	if sample.Latitude, ok = numericField(resp, "latitude"); !ok {
		return PositionSample{}, fmt.Errorf("position fix missing latitude")
	}
	if sample.Longitude, ok = numericField(resp, "longitude"); !ok {
		return PositionSample{}, fmt.Errorf("position fix missing longitude")
	}
	if acc, ok := numericField(resp, "accuracy"); ok {
		sample.AccuracyM = acc
	} else if hdop, ok := numericField(resp, "hdop"); ok {
		// Rough conversion when the firmware reports HDOP only
		sample.AccuracyM = hdop * 5.0
	}

	if sample.Latitude == 0 && sample.Longitude == 0 {
		return PositionSample{}, fmt.Errorf("no valid position fix")
	}
	return sample, nil
}

// numericField reads a float that may be string-encoded
func numericField(resp map[string]interface{}, key string) (float64, bool) {
	switch v := resp[key].(type) {
	case float64:
		return v, true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Watch polls the location service at the advisory interval and delivers each
// fix to fn. The first probe runs synchronously so a missing or denied
// location service fails loudly to the caller.
func (u *UbusSource) Watch(opts WatchOptions, fn func(PositionSample)) (Subscription, error) {
	probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := u.Current(probeCtx); err != nil {
		return nil, err
	}

	interval := opts.IntervalTarget
	if interval <= 0 {
		interval = 3 * time.Second
	}

	sub := &ubusSubscription{done: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-sub.done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				sample, err := u.Current(ctx)
				cancel()
				if err != nil {
					u.logger.Debug("position poll failed", "error", err.Error())
					continue
				}
				fn(sample)
			}
		}
	}()
	return sub, nil
}

type ubusSubscription struct {
	once sync.Once
	done chan struct{}
}

// Remove stops the polling loop. Safe to call more than once.
func (s *ubusSubscription) Remove() {
	s.once.Do(func() { close(s.done) })
}
