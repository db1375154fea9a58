package index

import (
	"time"

	"github.com/vosskuhle/hondana/internal/models"
)

// LibraryIndex defines the interface for structural index operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type LibraryIndex interface {
	// Library records.
	UpsertSeries(s models.Series) (int64, error)
	UpsertChapter(c models.Chapter) (int64, error)
	ListSeries(limit, offset int) ([]models.Series, int, error)
	ListChapters(seriesID int64) ([]models.Chapter, error)
	GetChapter(id int64) (*models.Chapter, error)
	SetChapterProgress(id int64, pageRead int) error
	SetSeriesCustomTitle(id int64, title string) error
	ChapterChecksums() (map[string]string, error)
	DeleteChapterByPath(path string) error
	AllSeriesPaths() (map[string]int64, error)
	DeleteSeriesByPath(path string) error

	// Affected-record resolution and structural rewrites.
	SeriesUnderPath(path string) ([]models.Series, error)
	ChaptersUnderPath(path string) ([]models.Chapter, error)
	CountUnderPath(path string) (int64, error)
	RewritePathPrefix(oldPrefix, newPrefix string) (int64, error)
	DeleteUnderPath(path string) (int64, int64, error)
	RestoreSnapshot(snap *models.RecordSnapshot) error

	// Operation persistence.
	InsertOperation(op *models.Operation) error
	UpdateOperation(op *models.Operation) error
	GetOperation(id string) (*models.Operation, error)
	ListOperations(status, kind string, limit, offset int) ([]models.Operation, int, error)
	PurgeOperationsBefore(cutoff time.Time) ([]models.Operation, error)

	Close() error
}

// Verify *DB satisfies LibraryIndex at compile time.
var _ LibraryIndex = (*DB)(nil)
