package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chain-gateway/internal/logger"
)

// sweepTick is how often the sweeper goroutine checks for reclaimable
// tombstones. It is independent of tombstoneGrace: a finer tick gives a
// tighter bound on "at least tombstoneGrace later" without requiring the
// grace period itself to be short.
const sweepTick = 1 * time.Second

// NewConnID mints a 128-bit random connection identifier, formatted as a
// v4 UUID. Grounded on the teacher's subscription-id generator
// (internal/graphql/resolvers/utils.go's uuid()), backed by
// google/uuid's CSPRNG-drawn v4 generator rather than a hand-rolled one.
func NewConnID() (ConnID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return ConnID(id.String()), nil
}

// Lifecycle owns connection-id minting and the tombstone sweeper for one
// SubscriptionTable. Contract interests are retained on close — this
// matches spec.md §4.5 and avoids thrashing upstream filters on reconnect.
type Lifecycle struct {
	table *SubscriptionTable
	log   logger.Logger
}

// NewLifecycle creates a Lifecycle bound to table.
func NewLifecycle(table *SubscriptionTable, log logger.Logger) *Lifecycle {
	return &Lifecycle{table: table, log: log}
}

// Accept mints a fresh connection id for a newly accepted WebSocket.
func (l *Lifecycle) Accept() (ConnID, error) {
	cid, err := NewConnID()
	if err != nil {
		return "", err
	}
	l.log.Debugf("connection %s accepted", cid)
	return cid, nil
}

// Close tombstones cid's subscriptions; the sweeper reclaims the row at
// least tombstoneGrace later.
func (l *Lifecycle) Close(cid ConnID) {
	l.table.CloseCid(cid)
	l.log.Debugf("connection %s closed", cid)
}

// RunSweeper blocks until ctx is canceled, periodically reclaiming
// tombstoned rows. One instance runs per process.
func (l *Lifecycle) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := l.table.sweepOnce(now); n > 0 {
				l.log.Debugf("sweeper reclaimed %d tombstoned connection(s)", n)
			}
		}
	}
}
