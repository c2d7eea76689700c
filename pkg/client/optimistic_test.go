package client

import (
	"testing"

	"github.com/codekarta/filedock/pkg/models"
)

func seedEntries() []models.FileEntry {
	return []models.FileEntry{
		{Name: "docs", Path: "/docs", IsDir: true},
		{Name: "a.txt", Path: "/a.txt"},
		{Name: "b.txt", Path: "/b.txt"},
	}
}

func names(entries []models.FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestOptimisticDeleteThenConfirm(t *testing.T) {
	s := NewOptimisticStore(seedEntries())

	id := s.ApplyDelete("/a.txt")
	if got := names(s.Entries()); len(got) != 2 {
		t.Fatalf("view after speculative delete = %v", got)
	}

	s.Confirm(id, nil)
	if got := names(s.Entries()); len(got) != 2 {
		t.Fatalf("view after confirm = %v", got)
	}
	if s.Pending() != 0 {
		t.Errorf("pending = %d", s.Pending())
	}
}

func TestOptimisticFailRevertsView(t *testing.T) {
	s := NewOptimisticStore(seedEntries())

	id := s.ApplyDelete("/a.txt")
	if len(s.Entries()) != 2 {
		t.Fatal("speculative delete not visible")
	}

	// Server rejected the mutation; the entry comes back without any
	// explicit inverse edit.
	s.Fail(id)
	view := s.Entries()
	if len(view) != 3 {
		t.Fatalf("view after fail = %v", names(view))
	}
	found := false
	for _, e := range view {
		if e.Path == "/a.txt" {
			found = true
		}
	}
	if !found {
		t.Error("failed delete did not restore the entry")
	}
}

func TestOptimisticAdd(t *testing.T) {
	s := NewOptimisticStore(seedEntries())

	id := s.ApplyAdd(models.FileEntry{Name: "new.txt", Path: "/new.txt"})
	if len(s.Entries()) != 4 {
		t.Fatal("speculative add not visible")
	}

	// Confirm with the server's authoritative entry (it may differ in
	// size or mtime from the speculative one).
	s.Confirm(id, &models.FileEntry{Name: "new.txt", Path: "/new.txt", Size: 99})
	for _, e := range s.Entries() {
		if e.Path == "/new.txt" && e.Size != 99 {
			t.Errorf("confirmed entry not replaced by server version: %+v", e)
		}
	}
}

func TestOptimisticAddFailRemoves(t *testing.T) {
	s := NewOptimisticStore(seedEntries())
	id := s.ApplyAdd(models.FileEntry{Name: "new.txt", Path: "/new.txt"})
	s.Fail(id)
	if len(s.Entries()) != 3 {
		t.Errorf("view after failed add = %v", names(s.Entries()))
	}
}

func TestOptimisticRename(t *testing.T) {
	s := NewOptimisticStore(seedEntries())

	id := s.ApplyRename("/a.txt", "renamed.txt")
	var seen bool
	for _, e := range s.Entries() {
		if e.Name == "renamed.txt" && e.Path == "/renamed.txt" {
			seen = true
		}
		if e.Path == "/a.txt" {
			t.Error("old path still visible")
		}
	}
	if !seen {
		t.Fatal("speculative rename not visible")
	}

	s.Fail(id)
	for _, e := range s.Entries() {
		if e.Name == "renamed.txt" {
			t.Error("failed rename still visible")
		}
	}
}

func TestOptimisticStackedMutations(t *testing.T) {
	s := NewOptimisticStore(seedEntries())

	del := s.ApplyDelete("/a.txt")
	add := s.ApplyAdd(models.FileEntry{Name: "c.txt", Path: "/c.txt"})

	if got := len(s.Entries()); got != 3 {
		t.Fatalf("view with stacked mutations = %d entries", got)
	}

	// Failing one mutation leaves the other intact.
	s.Fail(del)
	view := names(s.Entries())
	if len(view) != 4 {
		t.Fatalf("view = %v", view)
	}
	s.Confirm(add, nil)
	if s.Pending() != 0 {
		t.Errorf("pending = %d", s.Pending())
	}
}

func TestOptimisticReloadDropsPending(t *testing.T) {
	s := NewOptimisticStore(seedEntries())
	s.ApplyDelete("/a.txt")

	fresh := []models.FileEntry{{Name: "only.txt", Path: "/only.txt"}}
	s.Reload(fresh)
	if s.Pending() != 0 {
		t.Errorf("pending after reload = %d", s.Pending())
	}
	view := s.Entries()
	if len(view) != 1 || view[0].Name != "only.txt" {
		t.Errorf("view after reload = %v", names(view))
	}
}

func TestOptimisticViewIsSorted(t *testing.T) {
	s := NewOptimisticStore(seedEntries())
	s.ApplyAdd(models.FileEntry{Name: "zdir", Path: "/zdir", IsDir: true})

	view := s.Entries()
	// Directories first, then case-insensitive names.
	if !view[0].IsDir || !view[1].IsDir {
		t.Errorf("directories not first: %v", names(view))
	}
	if view[0].Name != "docs" || view[1].Name != "zdir" {
		t.Errorf("dir order = %v", names(view))
	}
}
