package blockcache

import "fmt"

// BlockInfo describes one resident block to an eviction policy.
type BlockInfo struct {
	Number uint32
	Dirty  bool
}

// EvictionPolicy selects victim blocks when the cache is at capacity and new
// slots are needed. resident is a snapshot of all cached blocks ordered from
// least to most recently used. The returned numbers must be distinct members
// of resident and exactly n in count; a violation is reported by the cache
// as ErrInternal.
//
// A policy may return dirty blocks. The cache writes dirty victims back
// (coalesced into contiguous device writes) before their slots are reused,
// so no policy can cause a dirty block to be dropped silently.
type EvictionPolicy interface {
	SelectVictims(n int, resident []BlockInfo) ([]uint32, error)
}

// EvictionPolicyFunc adapts a plain function to an EvictionPolicy.
type EvictionPolicyFunc func(n int, resident []BlockInfo) ([]uint32, error)

// SelectVictims implements EvictionPolicy.
func (f EvictionPolicyFunc) SelectVictims(n int, resident []BlockInfo) ([]uint32, error) {
	return f(n, resident)
}

// LRU evicts the least recently used blocks regardless of dirty state.
// Dirty victims cost a device write before their slot is reusable.
var LRU EvictionPolicy = EvictionPolicyFunc(selectLRU)

// LRUC (least recently used, clean preferred) evicts the least recently used
// clean blocks first. If fewer than n clean blocks exist, the shortfall is
// filled with the least recently used dirty blocks, which the cache writes
// back before eviction.
var LRUC EvictionPolicy = EvictionPolicyFunc(selectLRUC)

func selectLRU(n int, resident []BlockInfo) ([]uint32, error) {
	if n > len(resident) {
		return nil, fmt.Errorf("lru: %d victims requested, %d blocks resident", n, len(resident))
	}
	victims := make([]uint32, n)
	for i := 0; i < n; i++ {
		victims[i] = resident[i].Number
	}
	return victims, nil
}

func selectLRUC(n int, resident []BlockInfo) ([]uint32, error) {
	if n > len(resident) {
		return nil, fmt.Errorf("lruc: %d victims requested, %d blocks resident", n, len(resident))
	}

	victims := make([]uint32, 0, n)
	for _, b := range resident {
		if !b.Dirty {
			victims = append(victims, b.Number)
			if len(victims) == n {
				return victims, nil
			}
		}
	}

	// Not enough clean blocks. Fill the shortfall with the oldest dirty
	// blocks; the cache syncs them before reuse.
	for _, b := range resident {
		if b.Dirty {
			victims = append(victims, b.Number)
			if len(victims) == n {
				break
			}
		}
	}
	return victims, nil
}
