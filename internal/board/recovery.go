package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fconline-rag/boardcrawler/internal/metrics"
)

// RecoveryProtocol executes stall-prone navigation operations with a
// bounded escalation: on the first timeout it returns to the listing root,
// waits out a long fixed interval, and re-issues the operation once. A
// second timeout is fatal. The protocol holds no per-operation state, so
// the same instance guards detail fetches, listing fetches, and page
// advances alike.
type RecoveryProtocol struct {
	nav     Navigator
	sleeper Sleeper
	wait    time.Duration
	logger  *zap.Logger
}

// NewRecoveryProtocol builds a protocol that waits `wait` between the
// return-to-base and the single retry.
func NewRecoveryProtocol(nav Navigator, sleeper Sleeper, wait time.Duration, logger *zap.Logger) *RecoveryProtocol {
	return &RecoveryProtocol{
		nav:     nav,
		sleeper: sleeper,
		wait:    wait,
		logger:  logger,
	}
}

// Run issues op and, if it times out, performs one recovery cycle before
// retrying it. Non-timeout errors pass through untouched. A timeout on the
// retry wraps ErrFatalStall: repeated long stalls mean a structural problem
// an unattended process cannot fix by spinning.
func (r *RecoveryProtocol) Run(ctx context.Context, name string, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil || !errors.Is(err, ErrNavigationTimeout) {
		return err
	}

	r.logger.Warn("Operation stalled; entering recovery",
		zap.String("operation", name),
		zap.Duration("wait", r.wait),
		zap.Error(err),
	)
	metrics.ObserveRecovery(name)

	r.returnToBase(ctx)
	r.sleeper.Sleep(ctx, r.wait)
	if ctx.Err() != nil {
		return fmt.Errorf("recovery wait for %s: %w", name, ctx.Err())
	}

	if err := op(ctx); err != nil {
		if errors.Is(err, ErrNavigationTimeout) {
			return fmt.Errorf("%s timed out twice: %w", name, ErrFatalStall)
		}
		return err
	}

	r.logger.Info("Recovery succeeded", zap.String("operation", name))
	return nil
}

// returnToBase navigates back to the listing root, falling back to a plain
// reload when even that navigation fails. Both are best-effort; the long
// wait that follows is what actually clears transient trouble.
func (r *RecoveryProtocol) returnToBase(ctx context.Context) {
	err := r.nav.OpenRoot(ctx)
	if err == nil {
		return
	}
	r.logger.Warn("Return to listing root failed; reloading instead", zap.Error(err))
	if err := r.nav.Reload(ctx); err != nil {
		r.logger.Warn("Reload during recovery failed", zap.Error(err))
	}
}
