// Package source fetches the published interruption table and turns the
// configured queue column into outage intervals.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"outagebot/internal/clock"
	"outagebot/internal/outage"
	"outagebot/pkg/logx"
)

var (
	// ErrNoData means the source has nothing for the date yet: no row, an
	// empty cell, or a pending marker. An empty interval slice with a nil
	// error means "no interruptions".
	ErrNoData    = errors.New("schedule not published yet")
	ErrBadStatus = errors.New("unexpected http status")
)

const maxBody = 4 << 20

type Config struct {
	URL            string
	Column         int
	PendingMarkers []string
	Timeout        time.Duration
	CacheTTL       time.Duration
	UserAgent      string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithClock(clk clock.Clock) Option { return func(c *Client) { c.clk = clk } }

type Client struct {
	cfg  Config
	http *http.Client
	clk  clock.Clock
	log  logx.Logger

	// fetchMu serializes page fetches so concurrent callers share one result.
	fetchMu sync.Mutex

	mu        sync.Mutex
	cached    map[outage.Date]string
	fetchedAt time.Time
}

func New(cfg Config, log logx.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Column <= 0 {
		cfg.Column = 11
	}
	c := &Client{cfg: cfg, log: log.With(logx.String("comp", "source"))}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	if c.clk == nil {
		c.clk = clock.Real()
	}
	return c
}

// FetchWindows returns the interruption windows published for date.
func (c *Client) FetchWindows(ctx context.Context, date outage.Date) ([]outage.Interval, error) {
	rows, err := c.FetchRaw(ctx)
	if err != nil {
		return nil, err
	}
	raw, ok := rows[date]
	if !ok || c.pending(raw) {
		return nil, fmt.Errorf("%s: %w", date, ErrNoData)
	}
	res := outage.ParseReport(raw)
	if len(res.Skipped) > 0 {
		skipped := make([]string, 0, len(res.Skipped))
		for _, s := range res.Skipped {
			skipped = append(skipped, s.Raw)
		}
		c.log.Warn("malformed windows skipped",
			logx.String("date", date.String()),
			logx.Strs("fragments", skipped),
		)
	}
	// Text present but nothing parseable: treat like a pending cell.
	if len(res.Intervals) == 0 && len(res.Skipped) > 0 {
		return nil, fmt.Errorf("%s: %w", date, ErrNoData)
	}
	return res.Intervals, nil
}

// FetchRaw returns the raw column text per date, served from cache while it
// is younger than CacheTTL. The returned map must not be modified.
func (c *Client) FetchRaw(ctx context.Context) (map[outage.Date]string, error) {
	if rows, ok := c.fresh(); ok {
		return rows, nil
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	// Another caller may have refreshed while we waited.
	if rows, ok := c.fresh(); ok {
		return rows, nil
	}

	rows, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cached = rows
	c.fetchedAt = c.clk.Now()
	c.mu.Unlock()
	return rows, nil
}

// Invalidate drops the cached page so the next call refetches.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

// pending reports whether raw is empty or a "not published yet" marker.
func (c *Client) pending(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return true
	}
	for _, m := range c.cfg.PendingMarkers {
		if strings.EqualFold(raw, strings.TrimSpace(m)) {
			return true
		}
	}
	return false
}

func (c *Client) fresh() (map[outage.Date]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil || c.cfg.CacheTTL <= 0 {
		return nil, false
	}
	if c.clk.Now().Sub(c.fetchedAt) >= c.cfg.CacheTTL {
		return nil, false
	}
	return c.cached, true
}

func (c *Client) fetch(ctx context.Context) (map[outage.Date]string, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch schedule: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil, fmt.Errorf("fetch schedule: %w: %d", ErrBadStatus, resp.StatusCode)
	}

	rows, err := ParseTable(io.LimitReader(resp.Body, maxBody), c.cfg.Column)
	if err != nil {
		return nil, err
	}
	c.log.Debug("schedule fetched",
		logx.Int("rows", len(rows)),
		logx.Duration("took", time.Since(start)),
	)
	return rows, nil
}
