// Package feed polls a remote manager-action feed and hands new actions to
// the allocation pipeline.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/kilianp07/stockpulse/core/logger"
	"github.com/kilianp07/stockpulse/core/model"
	coremon "github.com/kilianp07/stockpulse/core/monitoring"
)

// Config describes the feed endpoint and its client credentials. Without a
// client id the feed is polled unauthenticated.
type Config struct {
	URL                 string `json:"url"`
	ClientID            string `json:"client_id"`
	ClientSecret        string `json:"client_secret"`
	TokenURL            string `json:"token_url"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	TimeoutSeconds      int    `json:"timeout_seconds"`
}

func (c *Config) SetDefaults() {
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 60
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
}

// Enabled reports whether a feed URL is configured.
func (c Config) Enabled() bool { return c.URL != "" }

// Ingester receives decoded manager actions.
type Ingester interface {
	IngestActions(actions []model.ManagerAction) int
}

// Client polls the feed on a fixed interval.
type Client struct {
	ing      Ingester
	log      logger.Logger
	client   *http.Client
	feedURL  string
	interval time.Duration

	mu    sync.Mutex
	since time.Time
}

// NewClient builds a feed client. The HTTP client fetches and refreshes
// tokens from cfg.TokenURL when credentials are set.
func NewClient(ctx context.Context, cfg Config, ing Ingester, log logger.Logger) *Client {
	cfg.SetDefaults()
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	hc := &http.Client{Timeout: timeout}
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		hc = cc.Client(ctx)
		hc.Timeout = timeout
	}
	return &Client{
		ing:      ing,
		log:      logger.OrNop(log),
		client:   hc,
		feedURL:  cfg.URL,
		interval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
	}
}

// Start begins the polling loop. It polls once immediately.
func (c *Client) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		if _, err := c.Poll(ctx); err != nil {
			c.log.Errorf("feed poll error: %v", err)
			coremon.CaptureException(err, map[string]string{"module": "feed"})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches actions newer than the last seen timestamp and ingests them.
// It returns the number of signals extracted.
func (c *Client) Poll(ctx context.Context) (int, error) {
	actions, err := c.fetch(ctx)
	if err != nil {
		return 0, err
	}
	if len(actions) == 0 {
		return 0, nil
	}
	n := c.ing.IngestActions(actions)

	c.mu.Lock()
	for _, a := range actions {
		if a.Timestamp.After(c.since) {
			c.since = a.Timestamp
		}
	}
	c.mu.Unlock()
	c.log.Infof("ingested %d signals from %d feed actions", n, len(actions))
	return n, nil
}

func (c *Client) fetch(ctx context.Context) ([]model.ManagerAction, error) {
	u, err := url.Parse(c.feedURL)
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}
	c.mu.Lock()
	since := c.since
	c.mu.Unlock()
	if !since.IsZero() {
		q := u.Query()
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}
	var actions []model.ManagerAction
	if err := json.NewDecoder(resp.Body).Decode(&actions); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	// The server may ignore the since parameter.
	if !since.IsZero() {
		fresh := actions[:0]
		for _, a := range actions {
			if a.Timestamp.After(since) {
				fresh = append(fresh, a)
			}
		}
		actions = fresh
	}
	return actions, nil
}
