package vm

import (
	"context"

	"forest/internal/blockstore"
)

// NetworkVersionEntry pins one height to the network version active from
// that height onward, with an optional state migration run once on the
// first tipset at or after it. Grounded on §4.6's "network-version table
// keyed by height, each version optionally pairing a state migration."
type NetworkVersionEntry struct {
	Height  int64
	Version uint64
	Prices  PriceList
	Migrate func(ctx context.Context, bs blockstore.Store, tree *StateTree) error
}

// MigrationSchedule is an ascending-height list of NetworkVersionEntry.
// A nil or empty schedule behaves as a single network version active from
// genesis, using DefaultPriceList and no migrations.
type MigrationSchedule []NetworkVersionEntry

// entryAt returns the last entry whose Height is <= height, or the zero
// value if height precedes every entry.
func (s MigrationSchedule) entryAt(height int64) (NetworkVersionEntry, bool) {
	var best NetworkVersionEntry
	found := false
	for _, e := range s {
		if e.Height <= height && (!found || e.Height > best.Height) {
			best = e
			found = true
		}
	}
	return best, found
}

// PricesAt returns the gas price list active at height.
func (s MigrationSchedule) PricesAt(height int64) PriceList {
	e, ok := s.entryAt(height)
	if !ok || e.Prices == nil {
		return DefaultPriceList
	}
	return e.Prices
}

// MaybeMigrate runs the migration registered for the entry whose Height
// equals the tipset's height exactly, since a migration is a one-shot
// event tied to the epoch it activates at, not every epoch afterward.
func (s MigrationSchedule) MaybeMigrate(ctx context.Context, bs blockstore.Store, tree *StateTree, height int64) error {
	for _, e := range s {
		if e.Height == height && e.Migrate != nil {
			if err := e.Migrate(ctx, bs, tree); err != nil {
				return err
			}
		}
	}
	return nil
}
