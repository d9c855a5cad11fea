// Package stats records user action events on the server.
//
// Every tracked action posts {action, timestamp} to POST /stats. Alert
// activation treats the post as a hard precondition and surfaces the error;
// informational taps fire and forget.
package stats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/juannvilchez/ciudadseguraappi/pkg/logx"
)

// Known action identifiers
const (
	ActionAlert          = "alerta"
	ActionWatchfulEyes   = "ojosenalerta"
	ActionConnectedGates = "tranquerasconectadas"
	ActionFirefighters   = "bomberos"
	ActionSAME           = "same"
	ActionCivilDefense   = "103defensacivil"
	ActionChildHelpline  = "147"
)

// TokenSource supplies a bearer token for the stats endpoint
type TokenSource interface {
	AuthToken() (string, error)
}

// Client posts action events to POST /stats
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *logx.Logger
	now        func() time.Time
}

// actionPayload is the event request body
type actionPayload struct {
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

// New creates a stats client against the given base API URL
func New(baseURL string, tokens TokenSource, logger *logx.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     tokens,
		logger:     logger,
		now:        time.Now,
	}
}

// PostAction records one action event. The error is returned so callers that
// treat the event as a precondition can surface it.
func (c *Client) PostAction(action string) error {
	token, err := c.tokens.AuthToken()
	if err != nil {
		return fmt.Errorf("no valid credential for action event: %w", err)
	}

	body, err := json.Marshal(actionPayload{
		Action:    action,
		Timestamp: c.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to encode action event: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/stats", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("action event failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("action event rejected with status %d", resp.StatusCode)
	}

	c.logger.Debug("action event recorded", "action", action)
	return nil
}

// Track records an informational action without blocking the caller.
// Failures are logged and otherwise ignored.
func (c *Client) Track(action string) {
	go func() {
		if err := c.PostAction(action); err != nil {
			c.logger.Debug("action event dropped", "action", action, "error", err.Error())
		}
	}()
}
