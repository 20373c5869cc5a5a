package model

import "sync"

// ElementID is a stable handle into an element store. Zero is never issued.
type ElementID uint64

// store owns element values. Lines reference entries by id; several lines
// may share one store (see Line.ShareCopy).
type store struct {
	mu    sync.RWMutex
	next  ElementID
	elems map[ElementID]Element
}

func newStore() *store {
	return &store{elems: make(map[ElementID]Element)}
}

func (s *store) add(e Element) ElementID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.elems[s.next] = e
	return s.next
}

func (s *store) get(id ElementID) Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.elems[id]
}
