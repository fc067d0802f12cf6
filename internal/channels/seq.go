package channels

import "sync"

// seqGuard orders results per channel kind by completion. A result is
// applied only if nothing numbered after it has completed first, which
// keeps a response that sat on the wire from clobbering a newer one.
type seqGuard struct {
	mu      sync.Mutex
	next    map[Kind]uint64
	applied map[Kind]uint64
}

// begin allocates a sequence number for a request that is about to
// start.
func (g *seqGuard) begin(kind Kind) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next == nil {
		g.next = make(map[Kind]uint64)
		g.applied = make(map[Kind]uint64)
	}
	g.next[kind]++
	return g.next[kind]
}

// complete reports whether the result for seq may be applied, and if
// so records it as the newest applied result for kind.
func (g *seqGuard) complete(kind Kind, seq uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.applied == nil {
		g.applied = make(map[Kind]uint64)
	}
	if seq <= g.applied[kind] {
		return false
	}
	g.applied[kind] = seq
	return true
}
