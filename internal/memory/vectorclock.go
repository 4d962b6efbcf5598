// Package memory implements C5's private/public key-value store
// (spec.md §4.5): an encrypted private domain and a CRDT-synchronized
// public domain, built directly on C2's memory.db.
package memory

// VectorClock tracks, per writer DID, the highest write counter this
// node has observed from that writer. Comparisons follow the standard
// partial order: a clock dominates another if every entry is >= the
// other's and at least one is strictly greater.
type VectorClock map[string]uint64

// Clone returns an independent copy.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Advance increments the entry for writerDID and returns the updated
// clock, used by a public-domain write to stamp its own causal step.
func (vc VectorClock) Advance(writerDID string) VectorClock {
	out := vc.Clone()
	out[writerDID] = out[writerDID] + 1
	return out
}

// Compare reports the causal relationship of vc to other.
type ClockOrder int

const (
	ClockEqual ClockOrder = iota
	ClockBefore
	ClockAfter
	ClockConcurrent
)

// Compare implements the partial order above vector clocks.
func (vc VectorClock) Compare(other VectorClock) ClockOrder {
	vcLeq, otherLeq := true, true
	keys := make(map[string]struct{}, len(vc)+len(other))
	for k := range vc {
		keys[k] = struct{}{}
	}
	for k := range other {
		keys[k] = struct{}{}
	}
	for k := range keys {
		a, b := vc[k], other[k]
		if a > b {
			otherLeq = false
		}
		if a < b {
			vcLeq = false
		}
	}
	switch {
	case vcLeq && otherLeq:
		return ClockEqual
	case vcLeq:
		return ClockBefore
	case otherLeq:
		return ClockAfter
	default:
		return ClockConcurrent
	}
}
