package database

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Mirror receives a copy of every ingested entry so the identity ledger can
// be queried outside the process. The on-disk artifacts stay the source of
// truth; a mirror can always be rebuilt from Store.Entries.
type Mirror interface {
	// Push upserts one entry, keyed by its content hash.
	Push(ctx context.Context, entry Entry) error
	// Count returns the number of mirrored entries.
	Count(ctx context.Context) (int, error)
	// Close releases the mirror's connections.
	Close() error
}

// MirrorPusher copies ingested entries to mirrors in the background.
// Failures are logged and never reach the ingesting caller.
type MirrorPusher struct {
	mirrors []Mirror
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

// NewMirrorPusher creates a pusher writing to mirrors, each push bounded by timeout.
func NewMirrorPusher(logger *slog.Logger, timeout time.Duration, mirrors ...Mirror) *MirrorPusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MirrorPusher{
		mirrors: mirrors,
		timeout: timeout,
		log:     logger.With("module", "mirror"),
	}
}

// Hook pushes e to every mirror without blocking. It is meant for
// StoreConfig.AfterIngest.
func (p *MirrorPusher) Hook(e Entry) {
	for _, m := range p.mirrors {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			defer cancel()
			if err := m.Push(ctx, e); err != nil {
				p.log.Warn("mirror push failed",
					"func", "Hook", "hash", e.Record.ContentHash, "error", err)
			}
		}()
	}
}

// Wait blocks until every started push has finished.
func (p *MirrorPusher) Wait() {
	p.wg.Wait()
}
