// Package chromedpnav implements board.Navigator with a headless (or, in
// interactive mode, visible) Chrome driven via chromedp. The boards render
// their listings client-side, so a real browser is the default engine.
package chromedpnav

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fconline-rag/boardcrawler/internal/board"
	"github.com/fconline-rag/boardcrawler/internal/sites"
)

// Config controls the behavior of the chromedp navigator.
type Config struct {
	Profile    sites.Profile
	Headless   bool
	UserAgent  string
	NavTimeout time.Duration
	HostQPS    float64
}

// Navigator drives one browser tab through a board. It is stateful: the tab
// tracks the page the session is currently on, which keeps one navigation
// per listing page even though the controller separates fetch and advance.
type Navigator struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	limiter       *rate.Limiter
	logger        *zap.Logger
	currentURL    string
}

// detailHandle is the opaque content handle returned by FetchDetail.
type detailHandle struct {
	url string
}

// New launches the browser and warms it up.
func New(cfg Config, logger *zap.Logger) (*Navigator, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 3 * time.Minute
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.HostQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.HostQPS), 1)
	}

	return &Navigator{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		limiter:       limiter,
		logger:        logger,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (n *Navigator) Close(context.Context) error {
	n.browserCancel()
	n.allocCancel()
	return nil
}

// FetchListing loads listing page `page` (if the tab is not already there)
// and scrapes its rows into item references. Rows whose link carries no
// article number (pinned notices) are skipped.
func (n *Navigator) FetchListing(ctx context.Context, page int) ([]board.ItemRef, error) {
	pageURL := n.cfg.Profile.PageURL(page)
	if n.currentURL != pageURL {
		if err := n.navigate(ctx, pageURL); err != nil {
			return nil, fmt.Errorf("fetch listing page %d: %w", page, err)
		}
	}

	var raw string
	if err := n.run(ctx, chromedp.Evaluate(n.listingJS(), &raw)); err != nil {
		return nil, n.wrapNav(ctx, fmt.Sprintf("scrape listing page %d", page), err)
	}

	var rows []struct {
		URL   string `json:"url"`
		Title string `json:"title"`
		Date  string `json:"date"`
	}
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, fmt.Errorf("decode listing page %d: %w", page, err)
	}

	items := make([]board.ItemRef, 0, len(rows))
	for _, row := range rows {
		id, err := n.cfg.Profile.ArticleNo(row.URL)
		if err != nil {
			n.logger.Debug("Skipping listing row without article number",
				zap.String("url", row.URL), zap.Error(err))
			continue
		}
		items = append(items, board.ItemRef{
			ID:           id,
			URL:          row.URL,
			RawTimestamp: row.Date,
			Title:        row.Title,
		})
	}
	return items, nil
}

// FetchDetail navigates the tab to the post's detail page.
func (n *Navigator) FetchDetail(ctx context.Context, url string) (board.Content, error) {
	if err := n.navigate(ctx, url); err != nil {
		return nil, fmt.Errorf("fetch detail: %w", err)
	}
	return detailHandle{url: url}, nil
}

// Extract scrapes the detail fields off the currently loaded page.
func (n *Navigator) Extract(ctx context.Context, c board.Content) (map[string]string, error) {
	handle, ok := c.(detailHandle)
	if !ok {
		return nil, fmt.Errorf("unexpected content %T: %w", c, board.ErrExtraction)
	}
	if handle.url != n.currentURL {
		return nil, fmt.Errorf("tab moved away from %s: %w", handle.url, board.ErrExtraction)
	}

	var raw string
	if err := n.run(ctx, chromedp.Evaluate(n.detailJS(), &raw)); err != nil {
		return nil, fmt.Errorf("evaluate detail %s: %v: %w", handle.url, err, board.ErrExtraction)
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode detail %s: %v: %w", handle.url, err, board.ErrExtraction)
	}
	for k, v := range fields {
		fields[k] = strings.TrimSpace(v)
	}
	if fields["title"] == "" && fields["content"] == "" {
		return nil, fmt.Errorf("empty detail page %s: %w", handle.url, board.ErrExtraction)
	}
	fields["url"] = handle.url
	return fields, nil
}

// AdvancePage navigates from listing page `page` to the next one.
func (n *Navigator) AdvancePage(ctx context.Context, page int) error {
	if err := n.navigate(ctx, n.cfg.Profile.PageURL(page+1)); err != nil {
		return fmt.Errorf("advance to page %d: %w", page+1, err)
	}
	return nil
}

// OpenRoot returns the tab to the listing root.
func (n *Navigator) OpenRoot(ctx context.Context) error {
	if err := n.navigate(ctx, n.cfg.Profile.BaseURL); err != nil {
		return fmt.Errorf("open listing root: %w", err)
	}
	return nil
}

// Reload re-requests whatever page the tab is on.
func (n *Navigator) Reload(ctx context.Context) error {
	if err := n.run(ctx, chromedp.Reload(), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return n.wrapNav(ctx, "reload", err)
	}
	return nil
}

func (n *Navigator) navigate(ctx context.Context, url string) error {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("host rate budget: %w", err)
		}
	}

	actions := []chromedp.Action{network.Enable()}
	if n.cfg.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(n.cfg.UserAgent))
	}
	actions = append(actions,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err := n.run(ctx, actions...); err != nil {
		return n.wrapNav(ctx, fmt.Sprintf("navigate %s", url), err)
	}
	n.currentURL = url
	return nil
}

// run executes actions on the session tab under the navigation deadline,
// forwarding cancellation from the caller's context.
func (n *Navigator) run(ctx context.Context, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(n.browserCtx, n.cfg.NavTimeout)
	defer cancel()

	stop := forwardCancel(ctx, cancel)
	defer stop()

	return chromedp.Run(taskCtx, actions...)
}

// wrapNav classifies a chromedp failure: a blown deadline with the caller's
// context still live is a navigation stall; everything else passes through.
func (n *Navigator) wrapNav(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%s: %w", op, board.ErrNavigationTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (n *Navigator) listingJS() string {
	return fmt.Sprintf(`JSON.stringify(Array.from(document.querySelectorAll(%q)).map(function(row) {
	var link = row.querySelector(%q);
	var title = row.querySelector(%q);
	var date = row.querySelector(%q);
	return {
		url: link ? link.href : "",
		title: title ? title.textContent.trim() : "",
		date: date ? date.textContent.trim() : ""
	};
}))`,
		n.cfg.Profile.RowSelector,
		n.cfg.Profile.LinkSelector,
		n.cfg.Profile.TitleSel,
		n.cfg.Profile.DateSel,
	)
}

func (n *Navigator) detailJS() string {
	return fmt.Sprintf(`JSON.stringify((function() {
	var pick = function(sel) {
		var el = document.querySelector(sel);
		return el ? el.textContent.trim() : "";
	};
	return {
		title: pick(%q),
		content: pick(%q),
		date: pick(%q),
		author: pick(%q)
	};
})())`,
		n.cfg.Profile.DetailTitleSel,
		n.cfg.Profile.DetailBodySel,
		n.cfg.Profile.DetailDateSel,
		n.cfg.Profile.DetailAuthorSel,
	)
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
