package board

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fconline-rag/boardcrawler/internal/metrics"
)

// Outcome is the terminal state of a crawl session.
type Outcome string

// Session outcomes. Exactly one fires per run.
const (
	OutcomeCutoff      Outcome = "cutoff"
	OutcomeExhausted   Outcome = "exhausted"
	OutcomeFatal       Outcome = "fatal"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeError       Outcome = "error"
)

// errStorage marks unrecoverable sink or visited-store I/O. Unlike item
// failures it terminates the session; progress made so far stays durable.
var errStorage = errors.New("storage failure")

// Controller drives one crawl session: listing pages in, records out, with
// admission governed by the visited store, the cutoff policy, and the
// session ceiling. It runs a single logical thread of control; every
// navigation and every scheduled delay is a suspension point.
type Controller struct {
	board    string
	session  string
	nav      Navigator
	visited  *VisitedStore
	sink     *JSONLSink
	cutoff   *CutoffPolicy
	backoff  *BackoffScheduler
	recovery *RecoveryProtocol
	sleeper  Sleeper
	clock    Clock
	logger   *zap.Logger

	// ceiling is the highest article number in scope for this session,
	// fixed at the first successful listing fetch. Zero means unset.
	ceiling       int64
	itemsIngested int
	pagesAdvanced int
}

// NewController wires a session together.
func NewController(
	boardName string,
	sessionID string,
	nav Navigator,
	visited *VisitedStore,
	sink *JSONLSink,
	cutoff *CutoffPolicy,
	backoff *BackoffScheduler,
	recovery *RecoveryProtocol,
	sleeper Sleeper,
	clock Clock,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		board:    boardName,
		session:  sessionID,
		nav:      nav,
		visited:  visited,
		sink:     sink,
		cutoff:   cutoff,
		backoff:  backoff,
		recovery: recovery,
		sleeper:  sleeper,
		clock:    clock,
		logger:   logger,
	}
}

// Run executes the crawl loop until one terminal condition fires. The sink
// is finalized on every exit path, so the artifact is always left sorted
// and consistent; the visited store needs no cleanup because every
// mutation is flushed synchronously.
func (c *Controller) Run(ctx context.Context) (outcome Outcome, err error) {
	c.logger.Info("Session starting",
		zap.String("board", c.board),
		zap.String("session_id", c.session),
		zap.Time("cutoff", c.cutoff.Cutoff()),
		zap.Int("visited", c.visited.Len()),
	)
	defer func() {
		if ferr := c.sink.Finalize(); ferr != nil {
			c.logger.Error("Finalize failed; unsorted artifact kept", zap.Error(ferr))
		}
		metrics.ObserveSession(c.board, string(outcome))
		c.logger.Info("Session finished",
			zap.String("outcome", string(outcome)),
			zap.Int("items_ingested", c.itemsIngested),
			zap.Int("pages_advanced", c.pagesAdvanced),
		)
	}()

	page := 1
	for {
		if ctx.Err() != nil {
			return OutcomeInterrupted, ctx.Err()
		}

		var items []ItemRef
		if err := c.recovery.Run(ctx, "fetch listing", func(ctx context.Context) error {
			var ferr error
			items, ferr = c.nav.FetchListing(ctx, page)
			return ferr
		}); err != nil {
			return c.terminal(err)
		}

		if len(items) == 0 {
			c.logger.Info("Listing exhausted", zap.Int("page", page))
			return OutcomeExhausted, nil
		}

		if c.ceiling == 0 {
			c.ceiling = maxID(items)
			c.logger.Info("Session ceiling fixed", zap.Int64("ceiling", c.ceiling))
		}

		admitted, reachedCutoff, err := c.processPage(ctx, items)
		if err != nil {
			return c.terminal(err)
		}
		if reachedCutoff {
			return OutcomeCutoff, nil
		}

		c.pagesAdvanced++
		metrics.ObservePageAdvanced(c.board)
		if admitted {
			delay := c.backoff.PageDelay(c.pagesAdvanced)
			metrics.ObserveBackoffSleep("page", delay)
			c.sleeper.Sleep(ctx, delay)
		}

		if err := c.recovery.Run(ctx, "advance page", func(ctx context.Context) error {
			return c.nav.AdvancePage(ctx, page)
		}); err != nil {
			return c.terminal(err)
		}
		page++
	}
}

// processPage walks one listing page in site-native order. It reports
// whether any new item was ingested (pages that only resurface history must
// not trigger page-advance delays) and whether the cutoff was reached.
func (c *Controller) processPage(ctx context.Context, items []ItemRef) (admitted bool, reachedCutoff bool, err error) {
	for _, item := range items {
		if ctx.Err() != nil {
			return admitted, false, ctx.Err()
		}

		if item.ID > c.ceiling {
			metrics.ObserveItemSkipped(c.board, "ceiling")
			c.logger.Debug("Skipping item above session ceiling",
				zap.Int64("article_no", item.ID), zap.Int64("ceiling", c.ceiling))
			continue
		}

		before, perr := c.cutoff.IsBeforeCutoff(item.RawTimestamp)
		if perr != nil {
			metrics.ObserveItemSkipped(c.board, "bad_timestamp")
			c.logger.Warn("Unparsable item timestamp; skipping",
				zap.Int64("article_no", item.ID),
				zap.String("timestamp", item.RawTimestamp),
				zap.Error(perr),
			)
			continue
		}
		if before {
			c.logger.Info("Cutoff reached; stopping pagination",
				zap.Int64("article_no", item.ID),
				zap.String("timestamp", item.RawTimestamp),
			)
			return admitted, true, nil
		}

		if c.visited.Has(item.ID) {
			metrics.ObserveItemSkipped(c.board, "visited")
			continue
		}

		if err := c.ingest(ctx, item); err != nil {
			switch {
			case errors.Is(err, ErrFatalStall), errors.Is(err, errStorage), ctx.Err() != nil:
				return admitted, false, err
			case errors.Is(err, ErrExtraction):
				metrics.ObserveItemSkipped(c.board, "extraction")
				c.logger.Warn("Extraction failed; skipping item",
					zap.Int64("article_no", item.ID), zap.Error(err))
				continue
			default:
				metrics.ObserveItemSkipped(c.board, "fetch")
				c.logger.Warn("Item fetch failed; skipping item",
					zap.Int64("article_no", item.ID), zap.Error(err))
				continue
			}
		}

		admitted = true
		c.itemsIngested++
		metrics.ObserveItemIngested(c.board)
		delay := c.backoff.ItemDelay(c.itemsIngested)
		metrics.ObserveBackoffSleep("item", delay)
		c.sleeper.Sleep(ctx, delay)
	}
	return admitted, false, nil
}

// ingest fetches, extracts, appends, and marks one item. The append always
// precedes the visited-mark: a crash between the two costs one re-fetch on
// the next run, never a lost record.
func (c *Controller) ingest(ctx context.Context, item ItemRef) error {
	var content Content
	if err := c.recovery.Run(ctx, "fetch detail", func(ctx context.Context) error {
		var ferr error
		content, ferr = c.nav.FetchDetail(ctx, item.URL)
		return ferr
	}); err != nil {
		return err
	}

	fields, err := c.nav.Extract(ctx, content)
	if err != nil {
		return err
	}

	record := Record{ID: item.ID, Fields: fields, FetchedAt: c.clock.Now()}
	if err := c.sink.Append(record); err != nil {
		return fmt.Errorf("%w: append record %d: %v", errStorage, item.ID, err)
	}
	if err := c.visited.Add(item.ID); err != nil {
		return fmt.Errorf("%w: mark visited %d: %v", errStorage, item.ID, err)
	}

	c.logger.Info("Ingested post",
		zap.Int64("article_no", item.ID),
		zap.String("title", item.Title),
	)
	return nil
}

func (c *Controller) terminal(err error) (Outcome, error) {
	switch {
	case errors.Is(err, ErrFatalStall):
		c.logger.Error("Fatal stall; aborting session", zap.Error(err))
		return OutcomeFatal, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeInterrupted, err
	default:
		return OutcomeError, err
	}
}

func maxID(items []ItemRef) int64 {
	var max int64
	for _, item := range items {
		if item.ID > max {
			max = item.ID
		}
	}
	return max
}
