package chainstore

import (
	"context"

	"github.com/pkg/errors"

	"forest/internal/types"
)

// SetHeaviest advances the heaviest-tipset pointer to next, computing the
// shortest revert/apply path through the common ancestor with the current
// head (§4.2), and publishes exactly one HeadChange per call — including
// the no-op case where next equals the current head, which still emits an
// empty-delta event so subscribers can rely on call-for-call ordering
// (§8: "set_heaviest(t); set_heaviest(t) emits exactly one head change").
func (s *Store) SetHeaviest(ctx context.Context, next *types.Tipset) (HeadChange, error) {
	s.mu.Lock()
	prev := s.heaviest
	s.mu.Unlock()

	if prev != nil && prev.Key().Equals(next.Key()) {
		hc := HeadChange{}
		s.publish(hc)
		return hc, nil
	}

	var revert, apply []*types.Tipset
	var err error
	if prev != nil {
		revert, apply, err = s.pathBetween(ctx, prev, next)
		if err != nil {
			return HeadChange{}, errors.Wrap(err, "compute reorg path")
		}
	} else {
		apply = []*types.Tipset{next}
	}

	s.mu.Lock()
	s.heaviest = next
	s.indexLocked(next)
	s.mu.Unlock()

	hc := HeadChange{Revert: revert, Apply: apply}
	s.publish(hc)
	s.log.WithField("height", next.Height()).WithField("reverts", len(revert)).WithField("applies", len(apply)).Info("head changed")
	return hc, nil
}

func (s *Store) publish(hc HeadChange) {
	s.headEvents.Pub(hc, headChangeTopic)
}

// pathBetween finds the common ancestor of a and b by walking the higher
// side down first, then both sides in lockstep, and returns the tipsets to
// revert from a (oldest-last, i.e. a down to just above ancestor) and to
// apply toward b (ancestor-exclusive, ascending).
func (s *Store) pathBetween(ctx context.Context, a, b *types.Tipset) ([]*types.Tipset, []*types.Tipset, error) {
	var revert, apply []*types.Tipset

	left, right := a, b
	for left.Height() > right.Height() {
		revert = append(revert, left)
		p, err := s.parentTipset(ctx, left)
		if err != nil {
			return nil, nil, err
		}
		left = p
	}
	for right.Height() > left.Height() {
		apply = append([]*types.Tipset{right}, apply...)
		p, err := s.parentTipset(ctx, right)
		if err != nil {
			return nil, nil, err
		}
		right = p
	}
	for !left.Key().Equals(right.Key()) {
		revert = append(revert, left)
		apply = append([]*types.Tipset{right}, apply...)
		lp, err := s.parentTipset(ctx, left)
		if err != nil {
			return nil, nil, err
		}
		rp, err := s.parentTipset(ctx, right)
		if err != nil {
			return nil, nil, err
		}
		left, right = lp, rp
	}
	return revert, apply, nil
}

func (s *Store) parentTipset(ctx context.Context, ts *types.Tipset) (*types.Tipset, error) {
	if len(ts.Parents()) == 0 {
		return nil, errors.New("chainstore: cannot walk past genesis")
	}
	return s.LoadTipset(ctx, types.NewTipsetKey(ts.Parents()))
}
