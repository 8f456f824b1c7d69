package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

// PageInfo describes where a navigation ended up.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Driver performs browser actions against a fresh tab per call.
type Driver interface {
	Navigate(ctx context.Context, url string) (PageInfo, error)
	Text(ctx context.Context, url, selector string) (PageInfo, string, error)
	Screenshot(ctx context.Context, url string, fullPage bool) (PageInfo, []byte, error)
}

// ChromeDriver drives Chrome through the DevTools protocol.
type ChromeDriver struct {
	pool *Pool
}

// NewChromeDriver builds a driver on pool.
func NewChromeDriver(pool *Pool) *ChromeDriver {
	return &ChromeDriver{pool: pool}
}

func (d *ChromeDriver) run(ctx context.Context, url string, actions ...chromedp.Action) (PageInfo, error) {
	tab, release, err := d.pool.Tab(ctx)
	if err != nil {
		return PageInfo{}, err
	}
	defer release()

	var info PageInfo
	steps := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&info.URL),
		chromedp.Title(&info.Title),
	}
	if err := chromedp.Run(tab, append(steps, actions...)...); err != nil {
		return PageInfo{}, fmt.Errorf("browser: %w", err)
	}
	return info, nil
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) (PageInfo, error) {
	return d.run(ctx, url)
}

func (d *ChromeDriver) Text(ctx context.Context, url, selector string) (PageInfo, string, error) {
	if selector == "" {
		selector = "body"
	}
	var text string
	info, err := d.run(ctx, url, chromedp.Text(selector, &text, chromedp.ByQuery, chromedp.NodeVisible))
	return info, text, err
}

func (d *ChromeDriver) Screenshot(ctx context.Context, url string, fullPage bool) (PageInfo, []byte, error) {
	var buf []byte
	var shot chromedp.Action = chromedp.CaptureScreenshot(&buf)
	if fullPage {
		shot = chromedp.FullScreenshot(&buf, 100)
	}
	info, err := d.run(ctx, url, shot)
	return info, buf, err
}
