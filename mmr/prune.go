package mmr

// PresenceSet tracks which mmr node positions still have live (unpruned)
// hash data. It is implemented by the storage layer; this package only
// knows the shape math needed to decide how far a prune propagates.
type PresenceSet interface {
	IsPresent(i uint64) (bool, error)
	SetAbsent(i uint64) error
}

// Prune marks the node at i absent, and recursively marks its parent absent
// too whenever the sibling of the just-pruned node is already absent. This
// is how interior nodes whose entire subtree is spent become eligible for
// physical removal, without ever moving a position.
//
// mmrLastIndex bounds the search: once a candidate sibling falls outside
// the current mmr, i is a peak and pruning stops.
func Prune(store PresenceSet, mmrLastIndex uint64, i uint64) error {
	if err := store.SetAbsent(i); err != nil {
		return err
	}

	g := IndexHeight(i)
	for {
		siblingOffset := uint64(2) << g

		var iSibling, parent uint64
		if IndexHeight(i+1) > g {
			iSibling = i - siblingOffset + 1
			parent = i + 1
		} else {
			iSibling = i + siblingOffset - 1
			parent = i + siblingOffset
		}

		if iSibling > mmrLastIndex {
			return nil
		}

		present, err := store.IsPresent(iSibling)
		if err != nil {
			return err
		}
		if present {
			return nil
		}

		if err := store.SetAbsent(parent); err != nil {
			return err
		}
		i = parent
		g++
	}
}
