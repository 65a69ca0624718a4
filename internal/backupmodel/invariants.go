package backupmodel

import "fmt"

// CheckInvariants validates I1-I3 over a CurrentTask. It is used by tests
// and, defensively, by statestore.Store.SaveCurrentTask before persisting
// a stage advance. It
// does not itself constitute stage inference -- see internal/stageinfer.
func CheckInvariants(t *CurrentTask) error {
	s := &t.Stage

	if t.Type == Full && t.Ref != "" {
		return fmt.Errorf("backupmodel: invariant I3 violated: full backup has non-empty ref %q", t.Ref)
	}
	if t.Type != Full && s.SnapshotExported != "" && t.Ref == "" {
		return fmt.Errorf("backupmodel: invariant I3 violated: %s backup exported with empty ref", t.Type)
	}

	if s.SnapshotExported == "" || t.SplitQuantity <= 0 {
		return nil // I1 only applies once export and split_quantity are established
	}

	// Each stage handler commits exactly one counter tick at a time (spec
	// §4.H), so a paired counter (e.g. compressed_test) only catches up to
	// its producer (compressed) one handler call later -- the two are
	// momentarily unequal between those commits. The reachable ordering is
	// therefore a non-strict chain, not pairwise equality: a chunk must be
	// compressed before it can be compress-tested, compress-tested before
	// encrypted, and so on, matching the per-chunk counter order stage
	// inference walks in internal/stageinfer.
	n := len(s.Split)
	if !(0 <= s.Cleared && s.Cleared <= s.Uploaded &&
		s.Uploaded <= s.EncryptedTest && s.EncryptedTest <= s.Encrypted &&
		s.Encrypted <= s.CompressedTest && s.CompressedTest <= s.Compressed &&
		s.Compressed <= n && n <= t.SplitQuantity) {
		return fmt.Errorf("backupmodel: invariant I1 violated: cleared=%d uploaded=%d encrypted_test=%d encrypted=%d compressed_test=%d compressed=%d len(split)=%d split_quantity=%d",
			s.Cleared, s.Uploaded, s.EncryptedTest, s.Encrypted, s.CompressedTest, s.Compressed, n, t.SplitQuantity)
	}

	return nil
}
