// Package sync implements §4.4: the synchronizer state machine that walks a
// candidate target tipset back to a common ancestor with the local head,
// validates the bridged chain oldest-first, and atomically advances the
// heaviest tipset on success. It is grounded on the retrieved go-filecoin
// chain.Syncer (syncOne/HandleNewTipSet) — same one-sync-at-a-time rule
// (kept with a generation counter and context cancellation rather than a
// lock held for the whole sync), bad-tipset cache, and reorg logging —
// generalized from that
// package's single syncOne entrypoint into the explicit named states this
// engine's design calls for.
package sync

// State is one of the §4.4 synchronizer states. Transitions are driven by
// peer availability and validation outcomes, never set directly by callers.
type State int

const (
	Stalled State = iota
	Connecting
	BridgingAncestors
	FetchingMessages
	Validating
	Applying
	Follow
)

func (s State) String() string {
	switch s {
	case Stalled:
		return "stalled"
	case Connecting:
		return "connecting"
	case BridgingAncestors:
		return "bridging_ancestors"
	case FetchingMessages:
		return "fetching_messages"
	case Validating:
		return "validating"
	case Applying:
		return "applying"
	case Follow:
		return "follow"
	default:
		return "unknown"
	}
}
