// Package uplink delivers accepted coordinates to the alert-ingestion endpoint.
//
// Delivery is best-effort and fire-and-forget: at most one request is in
// flight at a time, a send requested while one is in flight is silently
// skipped, and transport failures are swallowed. A newer fix follows within
// seconds, so a skipped or failed delivery is superseded rather than retried.
package uplink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/juannvilchez/ciudadseguraappi/pkg/geo"
	"github.com/juannvilchez/ciudadseguraappi/pkg/logx"
	"github.com/juannvilchez/ciudadseguraappi/pkg/metrics"
)

// Client posts filtered position samples to POST /alerts
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logx.Logger
	metrics    *metrics.Pipeline

	mu       sync.Mutex
	inFlight bool
}

// samplePayload is the alert-ingestion request body
type samplePayload struct {
	UserID string  `json:"userId"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

// New creates an uplink client against the given base API URL.
// No request deadline is set: delivery failure is detected by transport
// error alone, matching the pipeline's best-effort contract.
func New(baseURL string, logger *logx.Logger, m *metrics.Pipeline) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     logger,
		metrics:    m,
	}
}

// Send delivers one coordinate. It never blocks the caller and never reports
// failure: if a delivery is already in flight the coordinate is dropped.
func (c *Client) Send(coord geo.Coordinate, userID, authToken string) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		c.metrics.UplinkSkipped()
		c.logger.Debug("uplink busy, coordinate skipped",
			"lat", coord.Latitude,
			"lng", coord.Longitude,
		)
		return
	}
	c.inFlight = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.inFlight = false
			c.mu.Unlock()
		}()
		c.post(coord, userID, authToken)
	}()
}

// post issues the actual delivery request
func (c *Client) post(coord geo.Coordinate, userID, authToken string) {
	c.metrics.UplinkSent()

	body, err := json.Marshal(samplePayload{
		UserID: userID,
		Lat:    coord.Latitude,
		Lng:    coord.Longitude,
	})
	if err != nil {
		c.metrics.UplinkFailed()
		c.logger.Error("failed to encode sample payload", "error", err.Error())
		return
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/alerts", bytes.NewReader(body))
	if err != nil {
		c.metrics.UplinkFailed()
		c.logger.Error("failed to build uplink request", "error", err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Swallowed: the next accepted coordinate retries implicitly.
		c.metrics.UplinkFailed()
		c.logger.Debug("uplink delivery failed", "error", err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.metrics.UplinkFailed()
		c.logger.Debug("uplink delivery rejected", "status", resp.StatusCode)
		return
	}

	c.logger.Debug("coordinate delivered",
		"lat", coord.Latitude,
		"lng", coord.Longitude,
	)
}

// InFlight reports whether a delivery is currently outstanding
func (c *Client) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// StopLocation notifies the server of a manual deactivation. Unlike Send this
// is a one-shot action: the error is returned so the caller can surface it.
func (c *Client) StopLocation(userID, authToken string) error {
	body, err := json.Marshal(map[string]string{"userId": userID})
	if err != nil {
		return fmt.Errorf("failed to encode stop payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/alerts/stop-location", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build stop request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stop notice failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("stop notice rejected with status %d", resp.StatusCode)
	}
	return nil
}
