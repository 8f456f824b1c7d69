package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// PoolConfig configures the shared browser.
type PoolConfig struct {
	// MaxTabs bounds concurrently open tabs.
	MaxTabs int `json:"max_tabs" yaml:"max_tabs"`

	// Timeout bounds one action, navigation included.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Headful shows the browser window; the default is headless.
	Headful        bool   `json:"headful,omitempty" yaml:"headful"`
	ExecPath       string `json:"exec_path,omitempty" yaml:"exec_path"`
	RemoteURL      string `json:"remote_url,omitempty" yaml:"remote_url"`
	UserAgent      string `json:"user_agent,omitempty" yaml:"user_agent"`
	ViewportWidth  int    `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int    `json:"viewport_height" yaml:"viewport_height"`
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxTabs <= 0 {
		c.MaxTabs = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 800
	}
	return c
}

// ErrPoolClosed is returned after Close.
var ErrPoolClosed = errors.New("browser pool is closed")

// Pool owns one Chrome process, started on first use, and hands out tabs.
type Pool struct {
	config PoolConfig
	tabs   chan struct{}

	mu          sync.Mutex
	closed      bool
	browserCtx  context.Context
	closeAlloc  context.CancelFunc
	closeBrowse context.CancelFunc
}

// NewPool creates a pool. Chrome is not launched until a tab is needed.
func NewPool(config PoolConfig) *Pool {
	config = config.withDefaults()
	return &Pool{
		config: config,
		tabs:   make(chan struct{}, config.MaxTabs),
	}
}

// Config returns the effective configuration.
func (p *Pool) Config() PoolConfig {
	return p.config
}

// start launches (or attaches to) the browser. Callers hold p.mu.
func (p *Pool) start() error {
	if p.browserCtx != nil {
		return nil
	}

	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)
	if p.config.RemoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), p.config.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(p.config.ViewportWidth, p.config.ViewportHeight),
		)
		if p.config.Headful {
			opts = append(opts, chromedp.Flag("headless", false))
		}
		if p.config.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(p.config.ExecPath))
		}
		if p.config.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(p.config.UserAgent))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	// Running an empty action list starts the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return fmt.Errorf("start browser: %w", err)
	}
	p.browserCtx = browserCtx
	p.closeAlloc = cancelAlloc
	p.closeBrowse = cancelBrowser
	return nil
}

// Tab opens a new tab bounded by the pool timeout. The returned release
// closes the tab and frees its slot.
func (p *Pool) Tab(ctx context.Context) (context.Context, func(), error) {
	select {
	case p.tabs <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.tabs
		return nil, nil, ErrPoolClosed
	}
	if err := p.start(); err != nil {
		p.mu.Unlock()
		<-p.tabs
		return nil, nil, err
	}
	browserCtx := p.browserCtx
	p.mu.Unlock()

	tabCtx, closeTab := chromedp.NewContext(browserCtx)
	timeoutCtx, cancelTimeout := context.WithTimeout(tabCtx, p.config.Timeout)
	// Caller cancellation closes the tab too.
	stop := context.AfterFunc(ctx, cancelTimeout)

	release := func() {
		stop()
		cancelTimeout()
		closeTab()
		<-p.tabs
	}
	return timeoutCtx, release, nil
}

// Close shuts the browser down.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.closeBrowse != nil {
		p.closeBrowse()
		p.closeAlloc()
	}
	p.browserCtx = nil
	return nil
}
