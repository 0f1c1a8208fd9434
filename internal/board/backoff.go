package board

import (
	"math/rand"
	"time"
)

// BackoffConfig holds the tier constants for the pacing policy. Tiers fire
// independently and their delays add up, so a page advance that is both the
// Mth and the Lth sleeps for short+long+verylong.
type BackoffConfig struct {
	ItemDelayMin time.Duration
	ItemDelayMax time.Duration

	ItemRestEvery int
	ItemRestMin   time.Duration
	ItemRestMax   time.Duration

	PageDelayMin time.Duration
	PageDelayMax time.Duration

	PageRestEvery int
	PageRestMin   time.Duration
	PageRestMax   time.Duration

	PageLongRestEvery int
	PageLongRestMin   time.Duration
	PageLongRestMax   time.Duration
}

// DefaultBackoffConfig mirrors the pacing the boards have tolerated in
// production: a couple of seconds per item, a short rest every 10th item,
// minutes-long rests every 3rd and 10th page.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		ItemDelayMin:      2 * time.Second,
		ItemDelayMax:      5 * time.Second,
		ItemRestEvery:     10,
		ItemRestMin:       10 * time.Second,
		ItemRestMax:       15 * time.Second,
		PageDelayMin:      2 * time.Second,
		PageDelayMax:      6 * time.Second,
		PageRestEvery:     3,
		PageRestMin:       1 * time.Minute,
		PageRestMax:       3 * time.Minute,
		PageLongRestEvery: 10,
		PageLongRestMin:   8 * time.Minute,
		PageLongRestMax:   12 * time.Minute,
	}
}

// BackoffScheduler computes randomized inter-request delays from the two
// counters the controller maintains. It is stateless apart from the random
// source, which is injectable so tests can run without real sleeping.
type BackoffScheduler struct {
	cfg BackoffConfig
	rnd *rand.Rand
}

// NewBackoffScheduler builds a scheduler. A nil rnd gets a time-seeded one.
func NewBackoffScheduler(cfg BackoffConfig, rnd *rand.Rand) *BackoffScheduler {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &BackoffScheduler{cfg: cfg, rnd: rnd}
}

// ItemDelay returns the pause after the nth ingested item (1-based).
func (b *BackoffScheduler) ItemDelay(itemsIngested int) time.Duration {
	delay := b.between(b.cfg.ItemDelayMin, b.cfg.ItemDelayMax)
	if b.cfg.ItemRestEvery > 0 && itemsIngested%b.cfg.ItemRestEvery == 0 {
		delay += b.between(b.cfg.ItemRestMin, b.cfg.ItemRestMax)
	}
	return delay
}

// PageDelay returns the pause after the nth page advance (1-based).
func (b *BackoffScheduler) PageDelay(pagesAdvanced int) time.Duration {
	delay := b.between(b.cfg.PageDelayMin, b.cfg.PageDelayMax)
	if b.cfg.PageRestEvery > 0 && pagesAdvanced%b.cfg.PageRestEvery == 0 {
		delay += b.between(b.cfg.PageRestMin, b.cfg.PageRestMax)
	}
	if b.cfg.PageLongRestEvery > 0 && pagesAdvanced%b.cfg.PageLongRestEvery == 0 {
		delay += b.between(b.cfg.PageLongRestMin, b.cfg.PageLongRestMax)
	}
	return delay
}

func (b *BackoffScheduler) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(b.rnd.Int63n(int64(max-min)))
}
