// Package browser implements the local submission driver: a pool of
// headless Chrome instances that navigate a directory's submission page,
// fill the mapped form fields with humanised pacing, submit, and check
// the resulting page for a success indicator.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/autobolt/internal/common"
)

// Pool manages headless Chrome instances with round-robin allocation.
// Each Submit opens a fresh tab on the next instance, so concurrent
// attempts never share page state.
type Pool struct {
	mu               sync.Mutex
	browsers         []context.Context
	browserCancels   []context.CancelFunc
	allocatorCancels []context.CancelFunc
	next             int
	initialized      bool

	config *common.BrowserConfig
	logger arbor.ILogger
}

// NewPool creates an uninitialised pool
func NewPool(config *common.BrowserConfig, logger arbor.ILogger) *Pool {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Pool{config: config, logger: logger}
}

// Init starts the Chrome instances. Failure to start any instance at all
// is fatal; a partial pool runs degraded.
func (p *Pool) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return fmt.Errorf("browser pool already initialised")
	}

	instances := p.config.MaxInstances
	if instances < 1 {
		instances = 1
	}

	p.logger.Info().
		Int("instances", instances).
		Bool("headless", p.config.Headless).
		Msg("Starting browser pool")

	var lastErr error
	for i := 0; i < instances; i++ {
		if err := p.startInstance(ctx); err != nil {
			lastErr = err
			p.logger.Warn().Err(err).Int("index", i).Msg("Browser instance failed to start")
		}
	}

	if len(p.browsers) == 0 {
		p.closeLocked()
		return fmt.Errorf("no browser instance could be started: %w", lastErr)
	}
	if len(p.browsers) < instances {
		p.logger.Warn().
			Int("requested", instances).
			Int("started", len(p.browsers)).
			Msg("Browser pool running degraded")
	}

	p.initialized = true
	return nil
}

func (p *Pool) startInstance(ctx context.Context) error {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(p.config.UserAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	// Force the browser process up now so startup failures surface here,
	// not on the first submission
	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("failed to start chrome: %w", err)
	}

	p.browsers = append(p.browsers, browserCtx)
	p.browserCancels = append(p.browserCancels, browserCancel)
	p.allocatorCancels = append(p.allocatorCancels, allocatorCancel)
	return nil
}

// Acquire returns the next browser context round-robin
func (p *Pool) Acquire() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized || len(p.browsers) == 0 {
		return nil, fmt.Errorf("browser pool not initialised")
	}
	browser := p.browsers[p.next%len(p.browsers)]
	p.next++
	return browser, nil
}

// Close shuts down every instance. Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	p.initialized = false
}

func (p *Pool) closeLocked() {
	for _, cancel := range p.browserCancels {
		cancel()
	}
	for _, cancel := range p.allocatorCancels {
		cancel()
	}
	p.browsers = nil
	p.browserCancels = nil
	p.allocatorCancels = nil
	p.next = 0
}
