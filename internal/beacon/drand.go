// Package beacon implements §4.7: drand-derived randomness entries.
// entry_at(round) is realized as a local cache populated by VerifyEntries
// as headers are validated, rather than a live drand HTTP/gRPC client —
// no such client package is reachable from the retrieved example corpus
// (see DESIGN.md), and every entry this repo ever needs arrives embedded
// in a block header anyway.
package beacon

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"forest/internal/crypto"
	"forest/internal/types"
)

// ChainConfig describes one drand beacon chain: its genesis time and round
// period (for round/height bookkeeping elsewhere) and the group public key
// entries from this chain are verified against. Previous optionally chains
// to the config that preceded it, for verifying rounds signed before a
// network's drand chain was swapped out — §4.7's "previous_chain?" field.
type ChainConfig struct {
	GenesisTime int64
	Period      int64 // seconds
	PublicKey   []byte
	Previous    *ChainConfig
}

// ScheduleEntry activates Config at and after Height, mirroring the same
// height-keyed-schedule shape internal/vm's MigrationSchedule uses.
type ScheduleEntry struct {
	Height int64
	Config ChainConfig
}

// Schedule maps height ranges to the beacon chain config active there, per
// §4.7's "a schedule maps (height_range) -> beacon_chain_config."
type Schedule []ScheduleEntry

func (s Schedule) configAt(height int64) (ChainConfig, bool) {
	var best *ScheduleEntry
	for i := range s {
		if s[i].Height <= height && (best == nil || s[i].Height > best.Height) {
			best = &s[i]
		}
	}
	if best == nil {
		return ChainConfig{}, false
	}
	return best.Config, true
}

// ErrNoChainConfigured is returned when a height has no beacon chain
// config in the schedule.
var ErrNoChainConfigured = errors.New("beacon: no chain configured for height")

// ErrRoundNotMonotonic is returned when a block's beacon entries are not
// strictly increasing by round, per §4.7's "enforces monotonic round
// numbers."
var ErrRoundNotMonotonic = errors.New("beacon: entry rounds are not strictly increasing")

// ErrInvalidSignature is returned when an entry's signature does not
// verify against its chain's public key.
var ErrInvalidSignature = errors.New("beacon: invalid entry signature")

// Verifier implements sync.BeaconVerifier. It caches verified entries by
// round so repeated lookups (e.g. replaying a tipset during a reorg bridge)
// don't re-run a pairing check.
type Verifier struct {
	schedule Schedule
	cache    *lru.Cache[uint64, types.BeaconEntry]
}

func NewVerifier(schedule Schedule, cacheSize int) (*Verifier, error) {
	if cacheSize <= 0 {
		cacheSize = 2048
	}
	cache, err := lru.New[uint64, types.BeaconEntry](cacheSize)
	if err != nil {
		return nil, err
	}
	sorted := append(Schedule{}, schedule...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Height < sorted[j].Height })
	return &Verifier{schedule: sorted, cache: cache}, nil
}

// VerifyEntries implements sync.BeaconVerifier.
func (v *Verifier) VerifyEntries(height int64, entries []types.BeaconEntry) error {
	cfg, ok := v.schedule.configAt(height)
	if !ok {
		return ErrNoChainConfigured
	}

	var prevRound uint64
	for i, e := range entries {
		if i > 0 && e.Round <= prevRound {
			return ErrRoundNotMonotonic
		}
		prevRound = e.Round

		if cached, ok := v.cache.Get(e.Round); ok {
			if string(cached.Signature) != string(e.Signature) {
				return ErrInvalidSignature
			}
			continue
		}
		if !verifyEntry(cfg, e) {
			return ErrInvalidSignature
		}
		v.cache.Add(e.Round, e)
	}
	return nil
}

// EntryAt returns a previously verified entry by round, per §4.7's
// entry_at(round). Only entries this process has already validated are
// available; there is no live fetch path.
func (v *Verifier) EntryAt(round uint64) (types.BeaconEntry, bool) {
	return v.cache.Get(round)
}

// verifyEntry checks e's signature against cfg's public key, falling back
// to cfg.Previous on failure (an older round signed before a chain swap).
func verifyEntry(cfg ChainConfig, e types.BeaconEntry) bool {
	msg := drandMessage(e.Round)
	if crypto.VerifyBLS(cfg.PublicKey, e.Signature, msg) {
		return true
	}
	if cfg.Previous != nil {
		return verifyEntry(*cfg.Previous, e)
	}
	return false
}

// drandMessage builds the unchained-scheme signing message: sha256 of the
// round number alone, with no link to the previous round's signature.
func drandMessage(round uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], round)
	h := sha256.Sum256(buf[:])
	return h[:]
}
