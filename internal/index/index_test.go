package index

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/vosskuhle/hondana/internal/apperr"
	"github.com/vosskuhle/hondana/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "hondana-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedSeries(t *testing.T, db *DB, path string) int64 {
	t.Helper()
	id, err := db.UpsertSeries(models.Series{Title: "Series", Path: path})
	if err != nil {
		t.Fatalf("UpsertSeries(%s): %v", path, err)
	}
	return id
}

func seedChapter(t *testing.T, db *DB, seriesID int64, path string) int64 {
	t.Helper()
	id, err := db.UpsertChapter(models.Chapter{SeriesID: seriesID, Path: path, Number: 1, Pages: 20})
	if err != nil {
		t.Fatalf("UpsertChapter(%s): %v", path, err)
	}
	return id
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"series", "chapters", "operations"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestUpsertChapterPreservesProgress(t *testing.T) {
	db := testDB(t)
	sid := seedSeries(t, db, "/lib/A")
	cid := seedChapter(t, db, sid, "/lib/A/ch1.cbz")

	if err := db.SetChapterProgress(cid, 10); err != nil {
		t.Fatalf("SetChapterProgress: %v", err)
	}
	// Re-upsert (as a rescan would).
	if _, err := db.UpsertChapter(models.Chapter{SeriesID: sid, Path: "/lib/A/ch1.cbz", Number: 1, Pages: 20, Checksum: "new"}); err != nil {
		t.Fatalf("UpsertChapter: %v", err)
	}

	ch, err := db.GetChapter(cid)
	if err != nil {
		t.Fatalf("GetChapter: %v", err)
	}
	if ch.PageRead != 10 {
		t.Errorf("PageRead = %d, want 10 after re-upsert", ch.PageRead)
	}
	if ch.Checksum != "new" {
		t.Errorf("Checksum = %q, want %q", ch.Checksum, "new")
	}
}

func TestSetChapterProgressClamped(t *testing.T) {
	db := testDB(t)
	sid := seedSeries(t, db, "/lib/A")
	cid := seedChapter(t, db, sid, "/lib/A/ch1.cbz")

	if err := db.SetChapterProgress(cid, 999); err != nil {
		t.Fatalf("SetChapterProgress: %v", err)
	}
	ch, _ := db.GetChapter(cid)
	if ch.PageRead != 20 {
		t.Errorf("PageRead = %d, want clamp to 20", ch.PageRead)
	}

	if err := db.SetChapterProgress(99999, 1); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("progress on missing chapter = %v, want ErrNotFound", err)
	}
}

func TestUnderPathAnchorsOnSeparator(t *testing.T) {
	db := testDB(t)
	s1 := seedSeries(t, db, "/lib/Series 1")
	s10 := seedSeries(t, db, "/lib/Series 10")
	seedChapter(t, db, s1, "/lib/Series 1/ch1.cbz")
	seedChapter(t, db, s10, "/lib/Series 10/ch1.cbz")

	series, err := db.SeriesUnderPath("/lib/Series 1")
	if err != nil {
		t.Fatalf("SeriesUnderPath: %v", err)
	}
	if len(series) != 1 || series[0].Path != "/lib/Series 1" {
		t.Fatalf("series under /lib/Series 1 = %+v, want only the exact series", series)
	}

	chapters, err := db.ChaptersUnderPath("/lib/Series 1")
	if err != nil {
		t.Fatalf("ChaptersUnderPath: %v", err)
	}
	if len(chapters) != 1 || chapters[0].Path != "/lib/Series 1/ch1.cbz" {
		t.Fatalf("chapters under /lib/Series 1 = %+v, want only the nested chapter", chapters)
	}
}

func TestUnderPathTreatsWildcardCharsLiterally(t *testing.T) {
	db := testDB(t)
	sUnder := seedSeries(t, db, "/lib/My_Series")
	sX := seedSeries(t, db, "/lib/MyXSeries")
	seedChapter(t, db, sUnder, "/lib/My_Series/ch1.cbz")
	seedChapter(t, db, sX, "/lib/MyXSeries/ch1.cbz")

	chapters, err := db.ChaptersUnderPath("/lib/My_Series")
	if err != nil {
		t.Fatalf("ChaptersUnderPath: %v", err)
	}
	if len(chapters) != 1 || chapters[0].Path != "/lib/My_Series/ch1.cbz" {
		t.Fatalf("chapters under /lib/My_Series = %+v, want only the exact match", chapters)
	}

	n, err := db.RewritePathPrefix("/lib/My_Series", "/lib/Renamed")
	if err != nil {
		t.Fatalf("RewritePathPrefix: %v", err)
	}
	if n != 2 {
		t.Errorf("rewritten rows = %d, want 2 (series + chapter)", n)
	}
	sibling, _ := db.ChaptersUnderPath("/lib/MyXSeries")
	if len(sibling) != 1 || sibling[0].Path != "/lib/MyXSeries/ch1.cbz" {
		t.Errorf("sibling chapter = %+v, want untouched /lib/MyXSeries/ch1.cbz", sibling)
	}

	// Same for "%", which LIKE would treat as a multi-char wildcard.
	sPct := seedSeries(t, db, "/lib/100%")
	sPlain := seedSeries(t, db, "/lib/100")
	seedChapter(t, db, sPct, "/lib/100%/ch1.cbz")
	seedChapter(t, db, sPlain, "/lib/100/ch1.cbz")

	if _, delChapters, err := db.DeleteUnderPath("/lib/100%"); err != nil || delChapters != 1 {
		t.Fatalf("DeleteUnderPath(/lib/100%%) chapters = %d, err = %v, want 1 deleted", delChapters, err)
	}
	if n, _ := db.CountUnderPath("/lib/100"); n != 2 {
		t.Errorf("rows under /lib/100 after sibling delete = %d, want 2", n)
	}
}

func TestRewritePathPrefix(t *testing.T) {
	db := testDB(t)
	sA := seedSeries(t, db, "/lib/A")
	sA2 := seedSeries(t, db, "/lib/A2")
	seedChapter(t, db, sA, "/lib/A/x/y.cbz")
	seedChapter(t, db, sA2, "/lib/A2/z.cbz")

	n, err := db.RewritePathPrefix("/lib/A", "/lib/B")
	if err != nil {
		t.Fatalf("RewritePathPrefix: %v", err)
	}
	if n != 2 {
		t.Errorf("rewritten rows = %d, want 2 (series + chapter)", n)
	}

	chapters, _ := db.ChaptersUnderPath("/lib/B")
	if len(chapters) != 1 || chapters[0].Path != "/lib/B/x/y.cbz" {
		t.Errorf("chapter after rewrite = %+v, want /lib/B/x/y.cbz", chapters)
	}

	// Sibling with shared prefix must be untouched.
	sibling, _ := db.ChaptersUnderPath("/lib/A2")
	if len(sibling) != 1 || sibling[0].Path != "/lib/A2/z.cbz" {
		t.Errorf("sibling chapter = %+v, want untouched /lib/A2/z.cbz", sibling)
	}
}

func TestDeleteUnderPathAndRestoreSnapshot(t *testing.T) {
	db := testDB(t)
	sid := seedSeries(t, db, "/lib/Del")
	cid := seedChapter(t, db, sid, "/lib/Del/ch1.cbz")
	_ = db.SetChapterProgress(cid, 7)

	series, _ := db.SeriesUnderPath("/lib/Del")
	chapters, _ := db.ChaptersUnderPath("/lib/Del")
	snap := &models.RecordSnapshot{Series: series, Chapters: chapters}

	delSeries, delChapters, err := db.DeleteUnderPath("/lib/Del")
	if err != nil {
		t.Fatalf("DeleteUnderPath: %v", err)
	}
	if delSeries != 1 || delChapters != 1 {
		t.Errorf("deleted = (%d, %d), want (1, 1)", delSeries, delChapters)
	}
	if n, _ := db.CountUnderPath("/lib/Del"); n != 0 {
		t.Errorf("rows remaining after delete = %d", n)
	}

	if err := db.RestoreSnapshot(snap); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}
	ch, err := db.GetChapter(cid)
	if err != nil {
		t.Fatalf("GetChapter after restore: %v", err)
	}
	if ch.PageRead != 7 {
		t.Errorf("restored PageRead = %d, want 7", ch.PageRead)
	}
}

func TestOperationRoundTrip(t *testing.T) {
	db := testDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	op := &models.Operation{
		ID:         "op-1",
		Kind:       models.KindMove,
		SourcePath: "/lib/A",
		TargetPath: "/lib/B",
		Status:     models.StatusPending,
		MaxRetries: 2,
		Flags:      models.OperationFlags{CreateBackup: true},
		CreatedAt:  now,
	}
	if err := db.InsertOperation(op); err != nil {
		t.Fatalf("InsertOperation: %v", err)
	}

	op.Status = models.StatusValidated
	op.Validation = &models.ValidationResult{
		Valid:                true,
		RiskLevel:            models.RiskMedium,
		RequiresConfirmation: true,
		Conflicts:            []models.Conflict{{Type: models.ConflictTargetExists, Path: "/lib/B"}},
		AffectedChapterCount: 3,
	}
	validated := now.Add(time.Second)
	op.ValidatedAt = &validated
	if err := db.UpdateOperation(op); err != nil {
		t.Fatalf("UpdateOperation: %v", err)
	}

	got, err := db.GetOperation("op-1")
	if err != nil {
		t.Fatalf("GetOperation: %v", err)
	}
	if got.Status != models.StatusValidated || got.Kind != models.KindMove {
		t.Errorf("got status=%s kind=%s", got.Status, got.Kind)
	}
	if !got.Flags.CreateBackup {
		t.Error("flags lost in round trip")
	}
	if got.Validation == nil || got.Validation.RiskLevel != models.RiskMedium {
		t.Errorf("validation snapshot = %+v", got.Validation)
	}
	if len(got.Validation.Conflicts) != 1 || got.Validation.Conflicts[0].Type != models.ConflictTargetExists {
		t.Errorf("conflicts = %+v", got.Validation.Conflicts)
	}
	if got.ValidatedAt == nil {
		t.Error("validated_at lost")
	}
}

func TestGetOperation_NotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetOperation("missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListOperationsFilters(t *testing.T) {
	db := testDB(t)
	mk := func(id string, kind models.OperationKind, status models.OperationStatus) {
		t.Helper()
		op := &models.Operation{
			ID: id, Kind: kind, SourcePath: "/lib/X", Status: status,
			MaxRetries: 2, CreatedAt: time.Now(),
		}
		if kind.RequiresTarget() {
			op.TargetPath = "/lib/Y"
		}
		if err := db.InsertOperation(op); err != nil {
			t.Fatal(err)
		}
	}
	mk("a", models.KindDelete, models.StatusPending)
	mk("b", models.KindDelete, models.StatusCompleted)
	mk("c", models.KindMove, models.StatusCompleted)

	ops, total, err := db.ListOperations("completed", "", 10, 0)
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if total != 2 || len(ops) != 2 {
		t.Errorf("completed: total=%d len=%d, want 2/2", total, len(ops))
	}

	ops, total, err = db.ListOperations("completed", "delete", 10, 0)
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if total != 1 || len(ops) != 1 || ops[0].ID != "b" {
		t.Errorf("completed deletes = %+v (total %d), want just b", ops, total)
	}
}

func TestPurgeOperationsBefore(t *testing.T) {
	db := testDB(t)
	old := time.Now().Add(-48 * time.Hour)
	for _, row := range []struct {
		id     string
		status models.OperationStatus
		at     time.Time
	}{
		{"old-done", models.StatusCompleted, old},
		{"old-pending", models.StatusPending, old},
		{"new-done", models.StatusCompleted, time.Now()},
	} {
		op := &models.Operation{
			ID: row.id, Kind: models.KindDelete, SourcePath: "/lib/X",
			Status: row.status, MaxRetries: 2, CreatedAt: row.at,
		}
		if err := db.InsertOperation(op); err != nil {
			t.Fatal(err)
		}
	}

	purged, err := db.PurgeOperationsBefore(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PurgeOperationsBefore: %v", err)
	}
	if len(purged) != 1 || purged[0].ID != "old-done" {
		t.Fatalf("purged = %+v, want only old-done", purged)
	}

	// Non-terminal and recent rows survive.
	if _, err := db.GetOperation("old-pending"); err != nil {
		t.Error("old pending operation should survive the sweep")
	}
	if _, err := db.GetOperation("new-done"); err != nil {
		t.Error("recent terminal operation should survive the sweep")
	}
	if _, err := db.GetOperation("old-done"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("old terminal operation should be gone")
	}
}
