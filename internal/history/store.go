package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/letieu/reddit-trends/internal/record"
)

const (
	colTitle      = "title"
	colUpvotes    = "upvotes"
	colComments   = "comments"
	colAuthor     = "author"
	colPermalink  = "permalink"
	colCreatedUTC = "created_utc"
	colScrapedAt  = "scraped_at"
)

var requiredColumns = []string{colTitle, colUpvotes, colComments, colAuthor, colPermalink, colCreatedUTC}

// CorruptStoreError reports an existing dataset that cannot be read back.
// Line is 0 when the problem is not tied to a row.
type CorruptStoreError struct {
	Path string
	Line int
	Err  error
}

func (e *CorruptStoreError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("corrupt store %s: line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("corrupt store %s: %v", e.Path, e.Err)
}

func (e *CorruptStoreError) Unwrap() error { return e.Err }

// SaveError reports a dataset that could not be written.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string { return fmt.Sprintf("save %s: %v", e.Path, e.Err) }

func (e *SaveError) Unwrap() error { return e.Err }

// Store reads and writes CSV datasets on a filesystem.
type Store struct {
	fs afero.Fs
}

func NewStore(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// DefaultPath names the dataset of a subreddit.
func DefaultPath(forum string) string {
	name := strings.Trim(unsafeChars.ReplaceAllString(strings.TrimSpace(forum), "-"), "-")
	return fmt.Sprintf("reddit_%s_trends.csv", name)
}

// Load reads the dataset at path. A missing file is an empty dataset.
func (s *Store) Load(path string) ([]record.Record, error) {
	f, err := s.fs.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("No existing dataset", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, &CorruptStoreError{Path: path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil, &CorruptStoreError{Path: path, Err: errors.New("empty file, no header row")}
	}
	if err != nil {
		return nil, &CorruptStoreError{Path: path, Line: 1, Err: err}
	}

	idx, err := columnIndex(header)
	if err != nil {
		return nil, &CorruptStoreError{Path: path, Line: 1, Err: err}
	}

	var records []record.Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, &CorruptStoreError{Path: path, Line: pe.Line, Err: pe.Err}
			}
			return nil, &CorruptStoreError{Path: path, Err: err}
		}
		line, _ := r.FieldPos(0)

		rec, err := parseRow(row, idx)
		if err != nil {
			return nil, &CorruptStoreError{Path: path, Line: line, Err: err}
		}
		records = append(records, rec)
	}

	slog.Info("Loaded dataset", "path", path, "records", len(records))
	return records, nil
}

func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		switch name {
		case colTitle, colUpvotes, colComments, colAuthor, colPermalink, colCreatedUTC, colScrapedAt:
		default:
			return nil, fmt.Errorf("unexpected column %q", name)
		}
		if _, dup := idx[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		idx[name] = i
	}
	for _, name := range requiredColumns {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	return idx, nil
}

func parseRow(row []string, idx map[string]int) (record.Record, error) {
	upvotes, err := strconv.Atoi(row[idx[colUpvotes]])
	if err != nil {
		return record.Record{}, fmt.Errorf("upvotes: %w", err)
	}
	comments, err := strconv.Atoi(row[idx[colComments]])
	if err != nil {
		return record.Record{}, fmt.Errorf("comments: %w", err)
	}
	permalink := row[idx[colPermalink]]
	if permalink == "" {
		return record.Record{}, errors.New("empty permalink")
	}

	rec := record.Record{
		Title:      row[idx[colTitle]],
		Upvotes:    upvotes,
		Comments:   comments,
		Author:     row[idx[colAuthor]],
		Permalink:  permalink,
		CreatedUTC: row[idx[colCreatedUTC]],
	}
	if i, ok := idx[colScrapedAt]; ok {
		rec.ScrapedAt = row[i]
	}
	return rec, nil
}

// Save replaces the dataset at path with records. The rows go to a
// temporary file in the same directory which is then renamed over path, so a
// failed save leaves the previous dataset intact.
func (s *Store) Save(path string, records []record.Record) error {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return &SaveError{Path: path, Err: err}
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &SaveError{Path: path, Err: err}
	}
	tmpName := tmp.Name()

	if err := writeCSV(tmp, records); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return &SaveError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return &SaveError{Path: path, Err: err}
	}
	if err := s.fs.Chmod(tmpName, s.fileMode(path)); err != nil {
		s.fs.Remove(tmpName)
		return &SaveError{Path: path, Err: err}
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		s.fs.Remove(tmpName)
		return &SaveError{Path: path, Err: err}
	}

	slog.Info("Saved dataset", "path", path, "records", len(records))
	return nil
}

// fileMode keeps the permissions of an existing dataset. New files get 0644.
func (s *Store) fileMode(path string) fs.FileMode {
	if info, err := s.fs.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return 0o644
}

func writeCSV(f afero.File, records []record.Record) error {
	withScrapedAt := false
	for _, r := range records {
		if r.ScrapedAt != "" {
			withScrapedAt = true
			break
		}
	}

	header := append([]string(nil), requiredColumns...)
	if withScrapedAt {
		header = append(header, colScrapedAt)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Title,
			strconv.Itoa(r.Upvotes),
			strconv.Itoa(r.Comments),
			r.Author,
			r.Permalink,
			r.CreatedUTC,
		}
		if withScrapedAt {
			row = append(row, r.ScrapedAt)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}
