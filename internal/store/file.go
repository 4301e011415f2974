package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"candle-scanner/internal/errors"
	"candle-scanner/internal/models"
)

const (
	candlesDir   = "candles"
	summariesDir = "summaries"
	overviewFile = "overview.csv"
)

// FileStore keeps one CSV file per artifact under a root directory.
// Writes go to a temporary file that is renamed over the target, so a
// reader never observes a half-written file.
type FileStore struct {
	fs     afero.Fs
	root   string
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates the directory layout under root.
func NewFileStore(fs afero.Fs, root string, logger zerolog.Logger) (*FileStore, error) {
	for _, dir := range []string{root, filepath.Join(root, candlesDir), filepath.Join(root, summariesDir)} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.NewStoreError("mkdir", dir, err)
		}
	}
	return &FileStore{
		fs:     fs,
		root:   root,
		logger: logger.With().Str("component", "store").Logger(),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// SeriesPath returns the file of one series.
func (s *FileStore) SeriesPath(inst models.Instrument, iv models.Interval) string {
	return filepath.Join(s.root, candlesDir, fileTicker(inst.Ticker)+"_"+iv.String()+".csv")
}

// SummaryPath returns the summary file of one interval.
func (s *FileStore) SummaryPath(iv models.Interval) string {
	return filepath.Join(s.root, summariesDir, iv.String()+".csv")
}

// OverviewPath returns the overview file.
func (s *FileStore) OverviewPath() string {
	return filepath.Join(s.root, overviewFile)
}

// LoadSeries returns nil without error when the series was never saved.
// A file that cannot be parsed is reported as corrupt and left in place.
func (s *FileStore) LoadSeries(ctx context.Context, inst models.Instrument, iv models.Interval) ([]models.Row, error) {
	path := s.SeriesPath(inst, iv)
	var records []*rowRecord
	found, err := s.read(path, &records)
	if err != nil || !found {
		return nil, err
	}

	rows := make([]models.Row, 0, len(records))
	for _, r := range records {
		row, err := r.row()
		if err != nil {
			return nil, corrupt(path, err)
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time.Before(rows[j].Time) })
	return rows, nil
}

// SaveSeries overwrites the series file.
func (s *FileStore) SaveSeries(ctx context.Context, inst models.Instrument, iv models.Interval, rows []models.Row) error {
	records := make([]*rowRecord, len(rows))
	for i, r := range rows {
		records[i] = toRowRecord(r)
	}
	return s.write(s.SeriesPath(inst, iv), &records)
}

// SaveSummary overwrites the summary file of iv.
func (s *FileStore) SaveSummary(ctx context.Context, iv models.Interval, rows []models.SummaryRow) error {
	records := make([]*summaryRecord, len(rows))
	for i, r := range rows {
		records[i] = toSummaryRecord(r)
	}
	return s.write(s.SummaryPath(iv), &records)
}

// LoadSummary reads the summary file of iv.
func (s *FileStore) LoadSummary(ctx context.Context, iv models.Interval) ([]models.SummaryRow, error) {
	path := s.SummaryPath(iv)
	var records []*summaryRecord
	found, err := s.read(path, &records)
	if err != nil || !found {
		return nil, err
	}

	rows := make([]models.SummaryRow, 0, len(records))
	for _, r := range records {
		row, err := r.summaryRow()
		if err != nil {
			return nil, corrupt(path, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// SaveOverview overwrites the overview file.
func (s *FileStore) SaveOverview(ctx context.Context, records []models.OverviewRecord) error {
	out := make([]*overviewRecord, len(records))
	for i, r := range records {
		out[i] = toOverviewRecord(r)
	}
	return s.write(s.OverviewPath(), &out)
}

// LoadOverview reads the overview file.
func (s *FileStore) LoadOverview(ctx context.Context) ([]models.OverviewRecord, error) {
	path := s.OverviewPath()
	var records []*overviewRecord
	found, err := s.read(path, &records)
	if err != nil || !found {
		return nil, err
	}

	out := make([]models.OverviewRecord, 0, len(records))
	for _, r := range records {
		rec, err := r.overview()
		if err != nil {
			return nil, corrupt(path, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// OverviewModTime returns the overview file's modification time.
func (s *FileStore) OverviewModTime(ctx context.Context) (time.Time, error) {
	info, err := s.fs.Stat(s.OverviewPath())
	if os.IsNotExist(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errors.NewStoreError("stat", s.OverviewPath(), err)
	}
	return info.ModTime(), nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) read(path string, out interface{}) (bool, error) {
	data, err := afero.ReadFile(s.fs, path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.NewStoreError("read", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := gocsv.Unmarshal(bytes.NewReader(data), out); err != nil {
		return false, corrupt(path, err)
	}
	return true, nil
}

func (s *FileStore) write(path string, in interface{}) error {
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	var buf bytes.Buffer
	if err := gocsv.Marshal(in, &buf); err != nil {
		return errors.NewStoreError("encode", path, err)
	}

	tmp, err := afero.TempFile(s.fs, filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.NewStoreError("create", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return errors.NewStoreError("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return errors.NewStoreError("close", path, err)
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		s.fs.Remove(tmpName)
		return errors.NewStoreError("rename", path, err)
	}

	s.logger.Debug().Str("path", path).Int("bytes", buf.Len()).Msg("Artifact written")
	return nil
}

func (s *FileStore) pathLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

func corrupt(path string, err error) error {
	return errors.Fatal(errors.NewStoreError("decode", path, errors.Join(errors.ErrCorruptData, err)))
}
