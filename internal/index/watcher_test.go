package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vosskuhle/hondana/internal/archive"
)

// eventually polls cond until it returns true or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func startWatcher(t *testing.T, db *DB, root string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, db, archive.FilenameParser{}, root, discard(), nil)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Give the watcher a moment to register its directories.
	time.Sleep(50 * time.Millisecond)
}

func TestWatcherIndexesNewChapter(t *testing.T) {
	db := testDB(t)
	root := t.TempDir()
	startWatcher(t, db, root)

	path := filepath.Join(root, "ch 1.cbz")
	if err := os.WriteFile(path, []byte("pages"), 0o644); err != nil {
		t.Fatal(err)
	}

	ok := eventually(t, 2*time.Second, func() bool {
		cs, _ := db.ChapterChecksums()
		_, found := cs[path]
		return found
	})
	if !ok {
		t.Fatal("chapter was not indexed by the watcher")
	}
}

func TestWatcherRemovesDeletedChapter(t *testing.T) {
	db := testDB(t)
	root := t.TempDir()
	path := filepath.Join(root, "ch 1.cbz")
	if err := os.WriteFile(path, []byte("pages"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Scan(db, root, archive.FilenameParser{}, discard()); err != nil {
		t.Fatal(err)
	}
	startWatcher(t, db, root)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	ok := eventually(t, 2*time.Second, func() bool {
		cs, _ := db.ChapterChecksums()
		_, found := cs[path]
		return !found
	})
	if !ok {
		t.Fatal("deleted chapter still indexed")
	}
}

func TestWatcherPicksUpNewDirectory(t *testing.T) {
	db := testDB(t)
	root := t.TempDir()
	startWatcher(t, db, root)

	dir := filepath.Join(root, "New Series")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "ch 1.cbz")
	if err := os.WriteFile(path, []byte("pages"), 0o644); err != nil {
		t.Fatal(err)
	}

	ok := eventually(t, 2*time.Second, func() bool {
		cs, _ := db.ChapterChecksums()
		_, found := cs[path]
		return found
	})
	if !ok {
		t.Fatal("chapter in new directory was not indexed")
	}
}
