// Package collynav implements board.Navigator over plain HTTP using a Colly
// collector and goquery parsing. It is the lightweight engine for boards that
// serve listings server-side, and the one the tests can exercise end to end.
package collynav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fconline-rag/boardcrawler/internal/board"
	"github.com/fconline-rag/boardcrawler/internal/sites"
)

// Config controls collector behavior.
type Config struct {
	Profile   sites.Profile
	UserAgent string
	Timeout   time.Duration
	HostQPS   float64
}

// Navigator fetches and parses board pages without a browser. It keeps no
// page state beyond the last URL fetched, which Reload re-requests.
type Navigator struct {
	cfg     Config
	base    *colly.Collector
	limiter *rate.Limiter
	logger  *zap.Logger
	lastURL string
}

// page is the opaque content handle returned by FetchDetail.
type page struct {
	url  string
	body []byte
}

// New builds a Navigator.
func New(cfg Config, logger *zap.Logger) *Navigator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())

	var limiter *rate.Limiter
	if cfg.HostQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.HostQPS), 1)
	}

	return &Navigator{
		cfg:     cfg,
		base:    c,
		limiter: limiter,
		logger:  logger,
	}
}

// Close is a no-op; the collector holds no long-lived resources.
func (n *Navigator) Close(context.Context) error {
	return nil
}

// FetchListing downloads listing page `page` and parses its rows into item
// references. Rows without an article number (pinned notices) are skipped.
func (n *Navigator) FetchListing(ctx context.Context, pageNo int) ([]board.ItemRef, error) {
	pageURL := n.cfg.Profile.PageURL(pageNo)
	body, err := n.fetch(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch listing page %d: %w", pageNo, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing page %d: %w", pageNo, err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}

	var items []board.ItemRef
	doc.Find(n.cfg.Profile.RowSelector).Each(func(_ int, row *goquery.Selection) {
		href := row.Find(n.cfg.Profile.LinkSelector).AttrOr("href", "")
		link, err := base.Parse(href)
		if err != nil || href == "" {
			return
		}
		id, err := n.cfg.Profile.ArticleNo(link.String())
		if err != nil {
			n.logger.Debug("Skipping listing row without article number",
				zap.String("url", link.String()), zap.Error(err))
			return
		}
		items = append(items, board.ItemRef{
			ID:           id,
			URL:          link.String(),
			RawTimestamp: strings.TrimSpace(row.Find(n.cfg.Profile.DateSel).Text()),
			Title:        strings.TrimSpace(row.Find(n.cfg.Profile.TitleSel).Text()),
		})
	})
	return items, nil
}

// FetchDetail downloads the post's detail page.
func (n *Navigator) FetchDetail(ctx context.Context, postURL string) (board.Content, error) {
	body, err := n.fetch(ctx, postURL)
	if err != nil {
		return nil, fmt.Errorf("fetch detail: %w", err)
	}
	return page{url: postURL, body: body}, nil
}

// Extract parses the detail fields out of a fetched page.
func (n *Navigator) Extract(_ context.Context, c board.Content) (map[string]string, error) {
	p, ok := c.(page)
	if !ok {
		return nil, fmt.Errorf("unexpected content %T: %w", c, board.ErrExtraction)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.body))
	if err != nil {
		return nil, fmt.Errorf("parse detail %s: %v: %w", p.url, err, board.ErrExtraction)
	}

	pick := func(sel string) string {
		return strings.TrimSpace(doc.Find(sel).First().Text())
	}
	fields := map[string]string{
		"title":   pick(n.cfg.Profile.DetailTitleSel),
		"content": pick(n.cfg.Profile.DetailBodySel),
		"date":    pick(n.cfg.Profile.DetailDateSel),
		"author":  pick(n.cfg.Profile.DetailAuthorSel),
		"url":     p.url,
	}
	if fields["title"] == "" && fields["content"] == "" {
		return nil, fmt.Errorf("empty detail page %s: %w", p.url, board.ErrExtraction)
	}
	return fields, nil
}

// AdvancePage is a no-op: listing pages are URL-addressable, so the next
// FetchListing call carries the page number itself.
func (n *Navigator) AdvancePage(context.Context, int) error {
	return nil
}

// OpenRoot re-requests the listing root.
func (n *Navigator) OpenRoot(ctx context.Context) error {
	if _, err := n.fetch(ctx, n.cfg.Profile.BaseURL); err != nil {
		return fmt.Errorf("open listing root: %w", err)
	}
	return nil
}

// Reload re-requests the last fetched URL, or the root when nothing has been
// fetched yet.
func (n *Navigator) Reload(ctx context.Context) error {
	target := n.lastURL
	if target == "" {
		target = n.cfg.Profile.BaseURL
	}
	if _, err := n.fetch(ctx, target); err != nil {
		return fmt.Errorf("reload %s: %w", target, err)
	}
	return nil
}

// fetch runs one GET through a cloned collector, honoring the caller's
// context and the host rate budget.
func (n *Navigator) fetch(ctx context.Context, target string) ([]byte, error) {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("host rate budget: %w", err)
		}
	}

	collector := n.base.Clone()
	if n.cfg.UserAgent != "" {
		collector.UserAgent = n.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(n.cfg.Timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s canceled: %w", target, ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, classify(target, err)
		}
		if fetchErr != nil {
			return nil, classify(target, fetchErr)
		}
	}

	n.lastURL = target
	return body, nil
}

// classify maps transport timeouts onto the navigation-timeout sentinel so
// the recovery protocol can treat browser and HTTP stalls the same way.
func classify(target string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("fetch %s: %w", target, board.ErrNavigationTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("fetch %s: %w", target, board.ErrNavigationTimeout)
	}
	return fmt.Errorf("fetch %s: %w", target, err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
