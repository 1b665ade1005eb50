package sync

// admissible reports whether c's target tipset contains no block already in
// the run-local bad-block set. Per §4.4's failure model, a bad block is
// rejected "without further network I/O" — this check runs before bridging
// or fetching anything for c.
func (s *Syncer) admissible(c Candidate) bool {
	for _, b := range c.Tipset.Blocks() {
		bc, err := b.Cid()
		if err != nil {
			return false
		}
		if _, bad := s.cs.IsBad(bc); bad {
			return false
		}
	}
	return true
}
