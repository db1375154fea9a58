package index

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vosskuhle/hondana/internal/archive"
	"github.com/vosskuhle/hondana/internal/checksum"
	"github.com/vosskuhle/hondana/internal/models"
)

// Scan walks the library root and brings the index up to date:
//   - new/changed chapter files are parsed and upserted (one series row per
//     chapter directory)
//   - chapters removed from disk are deleted from the index
//   - series rows whose directory is gone and have no chapters left are pruned
func Scan(db *DB, root string, parser archive.Parser, logger *slog.Logger) error {
	known, err := db.ChapterChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(known))
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			logger.Warn("scan: walk error", slog.String("path", p), slog.String("error", walkErr.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !parser.Recognizes(p) {
			return nil
		}
		disk[p] = struct{}{}

		cs, csErr := checksum.SumFile(p)
		if csErr != nil {
			logger.Warn("scan: checksum failed", slog.String("path", p), slog.String("error", csErr.Error()))
			return nil
		}
		if known[p] == cs {
			return nil
		}
		if idxErr := indexChapterFile(db, parser, p, cs); idxErr != nil {
			logger.Warn("scan: index failed", slog.String("path", p), slog.String("error", idxErr.Error()))
		} else {
			logger.Debug("scan: indexed", slog.String("path", p))
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Remove stale chapter entries.
	for p := range known {
		if _, ok := disk[p]; !ok {
			if delErr := db.DeleteChapterByPath(p); delErr != nil {
				logger.Warn("scan: delete failed", slog.String("path", p), slog.String("error", delErr.Error()))
			} else {
				logger.Debug("scan: removed stale", slog.String("path", p))
			}
		}
	}

	// Prune series whose directory no longer exists.
	seriesPaths, err := db.AllSeriesPaths()
	if err != nil {
		return err
	}
	for p := range seriesPaths {
		if _, statErr := os.Stat(p); os.IsNotExist(statErr) {
			if delErr := db.DeleteSeriesByPath(p); delErr != nil {
				logger.Warn("scan: prune series failed", slog.String("path", p), slog.String("error", delErr.Error()))
			} else {
				logger.Debug("scan: pruned series", slog.String("path", p))
			}
		}
	}

	return nil
}

// indexChapterFile parses a chapter file and upserts its series and chapter
// rows. cs is the precomputed content checksum.
func indexChapterFile(db *DB, parser archive.Parser, path, cs string) error {
	md, err := parser.Parse(path)
	if err != nil {
		return err
	}

	seriesPath := filepath.Dir(path)
	seriesID, err := db.UpsertSeries(models.Series{
		Title: md.Series,
		Path:  seriesPath,
	})
	if err != nil {
		return err
	}

	_, err = db.UpsertChapter(models.Chapter{
		SeriesID: seriesID,
		Path:     path,
		Volume:   md.Volume,
		Number:   md.Chapter,
		Pages:    md.Pages,
		Checksum: cs,
	})
	return err
}
