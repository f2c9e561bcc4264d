package link

import (
	"net"
	"sort"
	"sync"

	"github.com/backkem/linksec/pkg/frame"
)

// Neighbor is a device reachable over the emulated radio.
type Neighbor struct {
	// ExtAddress is the neighbor's extended address, the nonce source for
	// frames it secures.
	ExtAddress uint64

	// ShortAddress is the neighbor's short address, or frame.NoShortAddress.
	ShortAddress uint16

	// Addr is where frames for the neighbor are sent.
	Addr net.Addr
}

// NeighborTable maps link addresses to neighbors.
// It is safe for concurrent use.
type NeighborTable struct {
	mu      sync.RWMutex
	byExt   map[uint64]Neighbor
	byShort map[uint16]uint64
}

// NewNeighborTable creates an empty table.
func NewNeighborTable() *NeighborTable {
	return &NeighborTable{
		byExt:   make(map[uint64]Neighbor),
		byShort: make(map[uint16]uint64),
	}
}

// Add inserts or replaces a neighbor.
func (t *NeighborTable) Add(n Neighbor) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.byExt[n.ExtAddress]; ok && old.ShortAddress != n.ShortAddress {
		delete(t.byShort, old.ShortAddress)
	}
	t.byExt[n.ExtAddress] = n
	if n.ShortAddress != frame.NoShortAddress && n.ShortAddress != frame.BroadcastShortAddress {
		t.byShort[n.ShortAddress] = n.ExtAddress
	}
}

// Remove deletes the neighbor with extended address ext.
func (t *NeighborTable) Remove(ext uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.byExt[ext]
	if !ok {
		return false
	}
	delete(t.byExt, ext)
	if t.byShort[n.ShortAddress] == ext {
		delete(t.byShort, n.ShortAddress)
	}
	return true
}

// ByExtended looks up a neighbor by extended address.
func (t *NeighborTable) ByExtended(ext uint64) (Neighbor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.byExt[ext]
	return n, ok
}

// ByShort looks up a neighbor by short address.
func (t *NeighborTable) ByShort(short uint16) (Neighbor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ext, ok := t.byShort[short]
	if !ok {
		return Neighbor{}, false
	}
	return t.byExt[ext], true
}

// Resolve returns the neighbors a frame addressed to dest reaches.
// The broadcast short address reaches every neighbor.
func (t *NeighborTable) Resolve(dest frame.Address) []Neighbor {
	switch dest.Mode {
	case frame.AddrModeExtended:
		if n, ok := t.ByExtended(dest.Extended); ok {
			return []Neighbor{n}
		}
	case frame.AddrModeShort:
		if dest.Short == frame.BroadcastShortAddress {
			return t.All()
		}
		if n, ok := t.ByShort(dest.Short); ok {
			return []Neighbor{n}
		}
	}
	return nil
}

// All returns every neighbor ordered by extended address.
func (t *NeighborTable) All() []Neighbor {
	t.mu.RLock()
	out := make([]Neighbor, 0, len(t.byExt))
	for _, n := range t.byExt {
		out = append(out, n)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ExtAddress < out[j].ExtAddress })
	return out
}

// Len returns the number of neighbors.
func (t *NeighborTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byExt)
}
