package client

import (
	"path"
	"sync"

	"github.com/codekarta/filedock/pkg/models"
)

// mutationKind enumerates speculative edits to a listing.
type mutationKind int

const (
	mutAdd mutationKind = iota
	mutDelete
	mutRename
)

type mutation struct {
	id      int64
	kind    mutationKind
	path    string
	entry   models.FileEntry // mutAdd
	newName string           // mutRename
}

// OptimisticStore holds the client's view of one directory listing.
// The view shown to callers is always derived from the last
// authoritative listing plus the ordered pending mutations, so undoing
// a failed mutation is just dropping it from the pending list; no
// hand-written inverse edits.
type OptimisticStore struct {
	mu            sync.Mutex
	authoritative []models.FileEntry
	pending       []mutation
	nextID        int64
}

// NewOptimisticStore creates a store seeded with a listing.
func NewOptimisticStore(entries []models.FileEntry) *OptimisticStore {
	s := &OptimisticStore{}
	s.Reload(entries)
	return s
}

// Reload replaces the authoritative listing and discards every pending
// mutation. Used after a fresh fetch from the server.
func (s *OptimisticStore) Reload(entries []models.FileEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authoritative = append([]models.FileEntry(nil), entries...)
	s.pending = nil
}

// Entries returns the derived view: authoritative entries with pending
// mutations applied in order, sorted directories-first.
func (s *OptimisticStore) Entries() []models.FileEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := append([]models.FileEntry(nil), s.authoritative...)
	for _, m := range s.pending {
		view = applyMutation(view, m)
	}
	models.SortEntries(view)
	return view
}

func applyMutation(view []models.FileEntry, m mutation) []models.FileEntry {
	switch m.kind {
	case mutAdd:
		return append(view, m.entry)
	case mutDelete:
		out := view[:0]
		for _, e := range view {
			if e.Path != m.path {
				out = append(out, e)
			}
		}
		return out
	case mutRename:
		for i, e := range view {
			if e.Path == m.path {
				view[i].Name = m.newName
				view[i].Path = path.Join(path.Dir(e.Path), m.newName)
			}
		}
		return view
	}
	return view
}

// Pending returns the number of unconfirmed mutations.
func (s *OptimisticStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *OptimisticStore) add(m mutation) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.id = s.nextID
	s.pending = append(s.pending, m)
	return m.id
}

// ApplyAdd speculatively inserts an entry, returning the mutation ID.
func (s *OptimisticStore) ApplyAdd(entry models.FileEntry) int64 {
	return s.add(mutation{kind: mutAdd, entry: entry})
}

// ApplyDelete speculatively removes the entry at path.
func (s *OptimisticStore) ApplyDelete(path string) int64 {
	return s.add(mutation{kind: mutDelete, path: path})
}

// ApplyRename speculatively renames the entry at path.
func (s *OptimisticStore) ApplyRename(path, newName string) int64 {
	return s.add(mutation{kind: mutRename, path: path, newName: newName})
}

// Confirm folds a pending mutation into the authoritative listing. A
// non-nil serverEntry replaces the speculative entry with the server's
// authoritative version.
func (s *OptimisticStore) Confirm(id int64, serverEntry *models.FileEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.take(id)
	if !ok {
		return
	}
	if serverEntry != nil && m.kind != mutDelete {
		switch m.kind {
		case mutAdd:
			m.entry = *serverEntry
		case mutRename:
			m.newName = serverEntry.Name
		}
	}
	s.authoritative = applyMutation(s.authoritative, m)
}

// Fail discards a pending mutation: the derived view reverts to the
// state before the mutation without touching the authoritative listing.
func (s *OptimisticStore) Fail(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.take(id)
}

// take removes and returns the pending mutation with the given ID.
// Caller holds the lock.
func (s *OptimisticStore) take(id int64) (mutation, bool) {
	for i, m := range s.pending {
		if m.id == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return m, true
		}
	}
	return mutation{}, false
}
