package memory

// resolvePublicWrite decides whether an incoming public-domain write
// should replace the currently stored item, per spec.md §4.5's CRDT
// semantics: last-writer-wins by vector clock, with concurrent
// (incomparable) writes broken by lexical ordering of the writer DIDs.
func resolvePublicWrite(current, incoming Item) bool {
	switch current.VectorClock.Compare(incoming.VectorClock) {
	case ClockBefore:
		return true
	case ClockAfter:
		return false
	case ClockEqual:
		return incoming.UpdatedAt.After(current.UpdatedAt)
	default: // ClockConcurrent
		return incoming.CreatedBy > current.CreatedBy
	}
}

// tombstone marks item deleted in place, retaining it (rather than
// removing the key) so a late-arriving peer's sync still observes the
// deletion instead of resurrecting a stale value.
func tombstone(item Item) Item {
	item.Tombstone = true
	item.Value = nil
	return item
}

// expiredTombstone reports whether a tombstoned item has aged past gc
// and can be purged from the public store.
func expiredTombstone(item Item, gcHorizonSeconds int64, nowUnix int64) bool {
	return item.Tombstone && nowUnix-item.UpdatedAt.Unix() > gcHorizonSeconds
}
