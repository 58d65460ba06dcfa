// Package breakpoint implements an ordered, non-overlapping table of
// software breakpoints keyed by virtual address range.
package breakpoint

import (
	"fmt"
	"sort"
	"sync"
)

// Address is a target process virtual address.
type Address uint64

// Breakpoint records a single patched byte range: the bytes originally
// present at vaddr, and the patched bytes (e.g. 0xCC) written in their
// place.
type Breakpoint struct {
	Addr     Address
	Size     int
	original []byte
	patched  []byte
}

// OldText returns the bytes that were originally at this address.
func (b *Breakpoint) OldText() []byte { return b.original }

// PatchedText returns the breakpoint-patched bytes that replace OldText
// in the target process.
func (b *Breakpoint) PatchedText() []byte { return b.patched }

// SetOldText records the bytes read from the target before patching.
func (b *Breakpoint) SetOldText(buf []byte) { copy(b.original, buf) }

// SetPatchedText records the bytes the Cpu generated for this breakpoint.
func (b *Breakpoint) SetPatchedText(buf []byte) { copy(b.patched, buf) }

func newBreakpoint(addr Address, size int) *Breakpoint {
	return &Breakpoint{
		Addr:     addr,
		Size:     size,
		original: make([]byte, size),
		patched:  make([]byte, size),
	}
}

// Table is an ordered collection of non-overlapping breakpoints.
//
// Insert always appends to the end of bps; this is load-bearing for
// rollback-on-failure in a caller that inserts then fails a later step
// (it only ever needs to drop the last element).
type Table struct {
	mu  sync.RWMutex
	bps []*Breakpoint
}

// NewTable returns an empty breakpoint table.
func NewTable() *Table {
	return &Table{}
}

// Lookup returns the breakpoint whose range contains pc, or nil.
func (t *Table) Lookup(pc Address) *Breakpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, bp := range t.bps {
		if pc >= bp.Addr && pc < bp.Addr+Address(bp.Size) {
			return bp
		}
	}
	return nil
}

// FindInRange returns all breakpoints overlapping [addr, addr+len),
// sorted by address.
func (t *Table) FindInRange(addr Address, length int) []*Breakpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()

	end := addr + Address(length)
	var out []*Breakpoint
	for _, bp := range t.bps {
		start := max(addr, bp.Addr)
		stop := min(end, bp.Addr+Address(bp.Size))
		if start < stop {
			out = append(out, bp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Insert allocates and appends a new breakpoint covering [addr, addr+size).
// It fails if the proposed range overlaps any existing breakpoint.
func (t *Table) Insert(addr Address, size int) (*Breakpoint, error) {
	if size < 0 {
		return nil, fmt.Errorf("breakpoint: invalid size %d", size)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	end := addr + Address(size)
	for _, bp := range t.bps {
		start := max(addr, bp.Addr)
		stop := min(end, bp.Addr+Address(bp.Size))
		if start < stop {
			return nil, fmt.Errorf("breakpoint: proposed breakpoint at 0x%x overlaps existing breakpoint at 0x%x", addr, bp.Addr)
		}
	}

	bp := newBreakpoint(addr, size)
	t.bps = append(t.bps, bp)
	return bp, nil
}

// RollbackLast removes the most recently inserted breakpoint. Callers
// use this to undo a successful Insert when a subsequent step (e.g.
// patching the target's memory) fails. It is only correct because
// Insert always appends.
func (t *Table) RollbackLast() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.bps) == 0 {
		return
	}
	t.bps = t.bps[:len(t.bps)-1]
}

// RemoveAt removes the breakpoint at table index idx.
func (t *Table) RemoveAt(idx int) (*Breakpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx < 0 || idx >= len(t.bps) {
		return nil, fmt.Errorf("breakpoint: invalid index %d", idx)
	}

	bp := t.bps[idx]
	t.bps = append(t.bps[:idx], t.bps[idx+1:]...)
	return bp, nil
}

// All returns a snapshot of every breakpoint in the table, in insertion order.
func (t *Table) All() []*Breakpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Breakpoint, len(t.bps))
	copy(out, t.bps)
	return out
}

// IndexOf returns the table index of bp, or -1 if it is not present.
func (t *Table) IndexOf(bp *Breakpoint) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, b := range t.bps {
		if b == bp {
			return i
		}
	}
	return -1
}

// Len returns the number of breakpoints currently in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bps)
}
