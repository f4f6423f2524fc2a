// Package usage keeps the usage ledger bounded. Events older than the
// retention period are deleted on a cron schedule; stores and users are
// never touched.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rajasatyajit/storeforge/config"
	"github.com/rajasatyajit/storeforge/internal/logger"
	"github.com/rajasatyajit/storeforge/internal/metrics"
)

// Ledger is the part of the store the pruner needs.
type Ledger interface {
	PruneUsage(ctx context.Context, before time.Time) (int64, error)
}

// Pruner deletes usage events older than the configured retention.
type Pruner struct {
	ledger Ledger
	config config.RetentionConfig
	clock  clockwork.Clock
}

func NewPruner(ledger Ledger, cfg config.RetentionConfig) *Pruner {
	return &Pruner{ledger: ledger, config: cfg, clock: clockwork.NewRealClock()}
}

// WithClock replaces the pruner's clock. Used by tests.
func (p *Pruner) WithClock(c clockwork.Clock) *Pruner {
	p.clock = c
	return p
}

// Cutoff is the oldest timestamp that survives a prune run now.
func (p *Pruner) Cutoff() time.Time {
	return p.clock.Now().UTC().Add(-p.config.MaxAge)
}

// Prune runs one retention pass. A zero MaxAge keeps everything.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.config.MaxAge <= 0 {
		return 0, nil
	}
	cutoff := p.Cutoff()
	n, err := p.ledger.PruneUsage(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune usage before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	metrics.RecordPrunedEvents(n)
	logger.Component("usage.pruner").Debug("usage events pruned", "deleted", n, "cutoff", cutoff)
	return n, nil
}
