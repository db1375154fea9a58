// Package archive identifies chapter files and extracts numbering metadata
// from them. The full CBZ/CBR/PDF format parser is an external collaborator;
// this package defines its contract and ships a filename-based default that is
// good enough to keep the index populated.
package archive

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Metadata holds what the index needs to know about a chapter file.
type Metadata struct {
	Series  string
	Volume  float64
	Chapter float64
	Pages   int
}

// Parser extracts chapter metadata from a file on disk.
type Parser interface {
	// Recognizes reports whether path looks like a chapter file this parser
	// can handle.
	Recognizes(path string) bool
	// Parse extracts metadata from the file at path. Implementations that
	// inspect archive contents may return page counts; filename-only
	// implementations leave Pages at zero.
	Parse(path string) (*Metadata, error)
}

var (
	volumeRe  = regexp.MustCompile(`(?i)\bv(?:ol(?:ume)?)?\.?\s*(\d+(?:\.\d+)?)`)
	chapterRe = regexp.MustCompile(`(?i)\b(?:ch?(?:apter)?\.?\s*)(\d+(?:\.\d+)?)`)
	numberRe  = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
)

var chapterExtensions = map[string]struct{}{
	".cbz": {},
	".cbr": {},
	".cb7": {},
	".pdf": {},
	".zip": {},
	".rar": {},
}

// FilenameParser derives metadata purely from file and directory names.
type FilenameParser struct{}

// Recognizes matches the supported chapter archive extensions.
func (FilenameParser) Recognizes(path string) bool {
	_, ok := chapterExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Parse extracts series title, volume, and chapter number from path.
// The series title comes from the parent directory name; volume and chapter
// numbers from common filename patterns ("Vol. 3", "ch 12.5", trailing number).
func (FilenameParser) Parse(path string) (*Metadata, error) {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	md := &Metadata{
		Series: filepath.Base(filepath.Dir(path)),
	}

	if m := volumeRe.FindStringSubmatch(name); m != nil {
		md.Volume, _ = strconv.ParseFloat(m[1], 64)
		// Strip the volume token so its number is not mistaken for a chapter.
		name = strings.Replace(name, m[0], " ", 1)
	}

	if m := chapterRe.FindStringSubmatch(name); m != nil {
		md.Chapter, _ = strconv.ParseFloat(m[1], 64)
		return md, nil
	}

	// Fall back to the last standalone number in the name.
	if all := numberRe.FindAllString(name, -1); len(all) > 0 {
		md.Chapter, _ = strconv.ParseFloat(all[len(all)-1], 64)
	}

	return md, nil
}
