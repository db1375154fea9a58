package index

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/vosskuhle/hondana/internal/apperr"
	"github.com/vosskuhle/hondana/internal/models"
)

// Prefix matching is anchored on a trailing path separator so that a sibling
// sharing a name prefix ("/lib/Series 1" vs "/lib/Series 10") never matches.
// The substr comparison keeps "_" and "%" in paths literal, which LIKE would
// treat as wildcards.
const underPath = `(path = ?1 OR substr(path, 1, length(?1) + 1) = ?1 || '/')`

// UpsertSeries inserts or updates a series row keyed by path and returns its id.
func (db *DB) UpsertSeries(s models.Series) (int64, error) {
	_, err := db.conn.Exec(`
		INSERT INTO series (title, path, custom_title, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET
			title      = excluded.title,
			updated_at = CURRENT_TIMESTAMP
	`, s.Title, s.Path, s.CustomTitle)
	if err != nil {
		return 0, fmt.Errorf("index: upsert series: %w", err)
	}
	var id int64
	if err := db.conn.QueryRow(`SELECT id FROM series WHERE path = ?`, s.Path).Scan(&id); err != nil {
		return 0, fmt.Errorf("index: series id: %w", err)
	}
	return id, nil
}

// UpsertChapter inserts or updates a chapter row keyed by path and returns its
// id. Reading progress on an existing row is preserved.
func (db *DB) UpsertChapter(c models.Chapter) (int64, error) {
	_, err := db.conn.Exec(`
		INSERT INTO chapters (series_id, path, volume, number, pages, checksum, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET
			series_id  = excluded.series_id,
			volume     = excluded.volume,
			number     = excluded.number,
			pages      = excluded.pages,
			checksum   = excluded.checksum,
			updated_at = CURRENT_TIMESTAMP
	`, c.SeriesID, c.Path, c.Volume, c.Number, c.Pages, c.Checksum)
	if err != nil {
		return 0, fmt.Errorf("index: upsert chapter: %w", err)
	}
	var id int64
	if err := db.conn.QueryRow(`SELECT id FROM chapters WHERE path = ?`, c.Path).Scan(&id); err != nil {
		return 0, fmt.Errorf("index: chapter id: %w", err)
	}
	return id, nil
}

// ListSeries returns paginated series ordered by title, plus the total count.
func (db *DB) ListSeries(limit, offset int) ([]models.Series, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var total int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM series`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count series: %w", err)
	}
	rows, err := db.conn.Query(`
		SELECT id, title, path, custom_title, created_at, updated_at
		FROM series ORDER BY title, path LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list series: %w", err)
	}
	defer rows.Close()
	out, err := scanSeries(rows)
	return out, total, err
}

// ListChapters returns all chapters of a series ordered by volume and number.
func (db *DB) ListChapters(seriesID int64) ([]models.Chapter, error) {
	rows, err := db.conn.Query(`
		SELECT id, series_id, path, volume, number, pages, page_read, checksum, updated_at
		FROM chapters WHERE series_id = ? ORDER BY volume, number, path
	`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("index: list chapters: %w", err)
	}
	defer rows.Close()
	return scanChapters(rows)
}

// GetChapter returns a single chapter by id.
func (db *DB) GetChapter(id int64) (*models.Chapter, error) {
	row := db.conn.QueryRow(`
		SELECT id, series_id, path, volume, number, pages, page_read, checksum, updated_at
		FROM chapters WHERE id = ?
	`, id)
	var c models.Chapter
	err := row.Scan(&c.ID, &c.SeriesID, &c.Path, &c.Volume, &c.Number, &c.Pages, &c.PageRead, &c.Checksum, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get chapter: %w", err)
	}
	return &c, nil
}

// SetChapterProgress updates the read-page marker of a chapter, clamped to its
// page count when the count is known.
func (db *DB) SetChapterProgress(id int64, pageRead int) error {
	if pageRead < 0 {
		pageRead = 0
	}
	res, err := db.conn.Exec(`
		UPDATE chapters
		SET page_read = CASE WHEN pages > 0 AND ? > pages THEN pages ELSE ? END,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, pageRead, pageRead, id)
	if err != nil {
		return fmt.Errorf("index: set progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// ChapterChecksums returns path → checksum for every indexed chapter.
func (db *DB) ChapterChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM chapters`)
	if err != nil {
		return nil, fmt.Errorf("index: chapter checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// DeleteChapterByPath removes a single chapter row.
func (db *DB) DeleteChapterByPath(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM chapters WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete chapter: %w", err)
	}
	return nil
}

// AllSeriesPaths returns path → id for every series row.
func (db *DB) AllSeriesPaths() (map[string]int64, error) {
	rows, err := db.conn.Query(`SELECT path, id FROM series`)
	if err != nil {
		return nil, fmt.Errorf("index: all series paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var p string
		var id int64
		if err := rows.Scan(&p, &id); err != nil {
			return nil, err
		}
		out[p] = id
	}
	return out, rows.Err()
}

// DeleteSeriesByPath removes a series row and, via cascade, its chapters.
func (db *DB) DeleteSeriesByPath(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM series WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete series: %w", err)
	}
	return nil
}

// SeriesUnderPath returns every series whose stored path equals path or lies
// beneath it.
func (db *DB) SeriesUnderPath(path string) ([]models.Series, error) {
	rows, err := db.conn.Query(`
		SELECT id, title, path, custom_title, created_at, updated_at
		FROM series WHERE `+underPath+` ORDER BY path
	`, path)
	if err != nil {
		return nil, fmt.Errorf("index: series under path: %w", err)
	}
	defer rows.Close()
	return scanSeries(rows)
}

// ChaptersUnderPath returns every chapter whose stored path equals path or
// lies beneath it.
func (db *DB) ChaptersUnderPath(path string) ([]models.Chapter, error) {
	rows, err := db.conn.Query(`
		SELECT id, series_id, path, volume, number, pages, page_read, checksum, updated_at
		FROM chapters WHERE `+underPath+` ORDER BY path
	`, path)
	if err != nil {
		return nil, fmt.Errorf("index: chapters under path: %w", err)
	}
	defer rows.Close()
	return scanChapters(rows)
}

// CountUnderPath returns how many series and chapter rows remain at or under
// path. Used for post-commit consistency checks.
func (db *DB) CountUnderPath(path string) (int64, error) {
	var n int64
	err := db.conn.QueryRow(`
		SELECT (SELECT COUNT(*) FROM series WHERE `+underPath+`)
		     + (SELECT COUNT(*) FROM chapters WHERE `+underPath+`)
	`, path).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("index: count under path: %w", err)
	}
	return n, nil
}

// RewritePathPrefix replaces oldPrefix with newPrefix on every series and
// chapter path at or under oldPrefix, inside a single transaction. The rewrite
// is a pure prefix substring replace so any subpath structure beneath the
// moved root is preserved. Returns the number of rows rewritten.
func (db *DB) RewritePathPrefix(oldPrefix, newPrefix string) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	const rewrite = `SET path = ?2 || substr(path, length(?1) + 1), updated_at = CURRENT_TIMESTAMP WHERE ` + underPath

	var total int64
	for _, table := range []string{"series", "chapters"} {
		res, err := tx.Exec(`UPDATE `+table+` `+rewrite, oldPrefix, newPrefix)
		if err != nil {
			return 0, fmt.Errorf("index: rewrite %s paths: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, tx.Commit()
}

// DeleteUnderPath removes every series and chapter row at or under path,
// inside a single transaction. Returns (series deleted, chapters deleted).
func (db *DB) DeleteUnderPath(path string) (int64, int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	chRes, err := tx.Exec(`DELETE FROM chapters WHERE `+underPath, path)
	if err != nil {
		return 0, 0, fmt.Errorf("index: delete chapters under path: %w", err)
	}
	seRes, err := tx.Exec(`DELETE FROM series WHERE `+underPath, path)
	if err != nil {
		return 0, 0, fmt.Errorf("index: delete series under path: %w", err)
	}
	chapters, _ := chRes.RowsAffected()
	series, _ := seRes.RowsAffected()
	return series, chapters, tx.Commit()
}

// RestoreSnapshot reinserts previously captured series and chapter rows with
// their original ids, inside a single transaction. Existing rows with the same
// id or path are replaced, so restoring is idempotent.
func (db *DB) RestoreSnapshot(snap *models.RecordSnapshot) error {
	if snap.Empty() {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, s := range snap.Series {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO series (id, title, path, custom_title, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		`, s.ID, s.Title, s.Path, s.CustomTitle, s.CreatedAt)
		if err != nil {
			return fmt.Errorf("index: restore series %d: %w", s.ID, err)
		}
	}
	for _, c := range snap.Chapters {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO chapters (id, series_id, path, volume, number, pages, page_read, checksum, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		`, c.ID, c.SeriesID, c.Path, c.Volume, c.Number, c.Pages, c.PageRead, c.Checksum)
		if err != nil {
			return fmt.Errorf("index: restore chapter %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func scanSeries(rows *sql.Rows) ([]models.Series, error) {
	var out []models.Series
	for rows.Next() {
		var s models.Series
		if err := rows.Scan(&s.ID, &s.Title, &s.Path, &s.CustomTitle, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanChapters(rows *sql.Rows) ([]models.Chapter, error) {
	var out []models.Chapter
	for rows.Next() {
		var c models.Chapter
		if err := rows.Scan(&c.ID, &c.SeriesID, &c.Path, &c.Volume, &c.Number, &c.Pages, &c.PageRead, &c.Checksum, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetSeriesCustomTitle stores a user-assigned display title on a series.
func (db *DB) SetSeriesCustomTitle(id int64, title string) error {
	res, err := db.conn.Exec(`
		UPDATE series SET custom_title = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, title, id)
	if err != nil {
		return fmt.Errorf("index: set custom title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
