package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"not-you-kiosk/internal/logging"
)

const (
	filePrefix = "portrait_"
	fileExt    = ".png"

	// maxCollisions bounds the suffix search for a taken file name. Suffixes
	// are zero padded to three digits so names keep sorting by age.
	maxCollisions = 1000
)

type Options struct {
	Dir string
	// MaxImages caps the archive; the oldest portraits are removed first.
	// Zero keeps everything.
	MaxImages int
	Logger    *zerolog.Logger
	Now       func() time.Time
}

// Archive writes every generated portrait to a flat directory. It keeps no
// index; the file names sort chronologically.
type Archive struct {
	dir       string
	maxImages int
	now       func() time.Time
	logger    *zerolog.Logger

	mu sync.Mutex
}

func New(opts Options) (*Archive, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, errors.New("archive: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: ensure directory: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxImages := opts.MaxImages
	if maxImages < 0 {
		maxImages = 0
	}

	return &Archive{
		dir:       dir,
		maxImages: maxImages,
		now:       now,
		logger:    logging.OrDiscard(opts.Logger),
	}, nil
}

func (a *Archive) Dir() string {
	if a == nil {
		return ""
	}
	return a.dir
}

// Save stores data as portrait_<YYYYMMDD_HHMMSS_mmm>.png and returns the path.
func (a *Archive) Save(data []byte) (string, error) {
	if a == nil {
		return "", errors.New("archive: not configured")
	}
	if len(data) == 0 {
		return "", errors.New("archive: empty image")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	base := fileName(a.now())
	path, err := a.create(base, data)
	if err != nil {
		return "", err
	}
	a.logger.Info().Str("path", path).Int("bytes", len(data)).Msg("portrait archived")

	if err := a.prune(); err != nil {
		a.logger.Warn().Err(err).Msg("archive prune failed")
	}
	return path, nil
}

func (a *Archive) create(base string, data []byte) (string, error) {
	stem := strings.TrimSuffix(base, fileExt)
	for i := 0; i < maxCollisions; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s_%03d%s", stem, i, fileExt)
		}
		path := filepath.Join(a.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("archive: create file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			_ = os.Remove(path)
			return "", fmt.Errorf("archive: write file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("archive: close file: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("archive: no free name for %s", base)
}

// List returns archived portrait paths, oldest first.
func (a *Archive) List() ([]string, error) {
	if a == nil {
		return nil, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.list()
}

func (a *Archive) list() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("archive: read directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(a.dir, name)
	}
	return paths, nil
}

func (a *Archive) prune() error {
	if a.maxImages == 0 {
		return nil
	}
	paths, err := a.list()
	if err != nil {
		return err
	}
	excess := len(paths) - a.maxImages
	for i := 0; i < excess; i++ {
		if err := os.Remove(paths[i]); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("archive: remove %s: %w", paths[i], err)
		}
		a.logger.Debug().Str("path", paths[i]).Msg("portrait evicted")
	}
	return nil
}

func fileName(t time.Time) string {
	return fmt.Sprintf("%s%s_%03d%s", filePrefix, t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond), fileExt)
}
