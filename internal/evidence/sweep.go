package evidence

import (
	"archive/zip"
	"os"
	"path/filepath"
	"time"

	"github.com/codor-dev/codor/internal/types"
)

// RetentionConfig configures the background sweeper of spec.md §4.3.
type RetentionConfig struct {
	Policy           types.RetentionPolicy
	CompressAfterDays int // default 7
	DeleteAfterDays   int // default 30
}

// DefaultRetentionConfig returns the spec.md §4.3 defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Policy:            types.RetentionNeverExpire,
		CompressAfterDays: 7,
		DeleteAfterDays:   30,
	}
}

// Sweep walks every attempt directory under the store root and applies the
// configured retention policy. It is idempotent: compressing an
// already-compressed attempt or deleting an already-deleted one is a no-op.
// Sweeping never blocks sprint execution; callers run it from a ticker or a
// CLI subcommand, never from the controller's hot path.
func (s *Store) Sweep(cfg RetentionConfig, now time.Time) error {
	if cfg.Policy == types.RetentionNeverExpire {
		return nil
	}

	taskDirs, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, td := range taskDirs {
		if !td.IsDir() {
			continue
		}
		taskPath := filepath.Join(s.Root, td.Name())
		attemptDirs, err := os.ReadDir(taskPath)
		if err != nil {
			continue
		}
		for _, ad := range attemptDirs {
			if !ad.IsDir() {
				continue
			}
			attemptPath := filepath.Join(taskPath, ad.Name())
			info, err := ad.Info()
			if err != nil {
				continue
			}
			age := now.Sub(info.ModTime())

			switch cfg.Policy {
			case types.RetentionDeleteAfterDays:
				if age >= time.Duration(cfg.DeleteAfterDays)*24*time.Hour {
					if err := os.RemoveAll(attemptPath); err != nil {
						return err
					}
				}
			case types.RetentionCompressAfterDays:
				if age >= time.Duration(cfg.CompressAfterDays)*24*time.Hour {
					if err := compressAttempt(attemptPath); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// compressAttempt replaces an attempt directory with a single .zip archive
// of the same name, idempotently (no-op if the archive already exists and
// the directory is already gone).
func compressAttempt(dir string) error {
	archivePath := dir + ".zip"
	if _, err := os.Stat(archivePath); err == nil {
		if _, statErr := os.Stat(dir); os.IsNotExist(statErr) {
			return nil // already compressed
		}
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = w.Write(content)
		return err
	})
	if err != nil {
		zw.Close()
		os.Remove(archivePath)
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	return os.RemoveAll(dir)
}
