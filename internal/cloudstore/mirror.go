package cloudstore

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const runPrefix = "runs"

// Mirror copies run directories between the local data dir and a bucket.
// Only the top-level files of a run directory are mirrored.
type Mirror struct {
	bucket Bucket
	prefix string
}

// NewMirror creates a Mirror. prefix is prepended to every key and may be empty.
func NewMirror(bucket Bucket, prefix string) *Mirror {
	return &Mirror{bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// RunKey returns the object key of file inside runID.
func (m *Mirror) RunKey(runID, file string) string {
	return path.Join(m.prefix, runPrefix, runID, file)
}

// UploadRun uploads every regular file in dir. It returns the uploaded keys.
func (m *Mirror) UploadRun(ctx context.Context, runID, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "cloudstore: read run dir %s", dir)
	}

	log := zap.L().With(zap.String("component", "cloudstore"), zap.String("run_id", runID))
	var keys []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		key := m.RunKey(runID, e.Name())
		if err := m.putFile(ctx, key, filepath.Join(dir, e.Name())); err != nil {
			return keys, err
		}
		log.Debug("uploaded", zap.String("key", key))
		keys = append(keys, key)
	}
	log.Info("run uploaded", zap.Int("files", len(keys)))
	return keys, nil
}

func (m *Mirror) putFile(ctx context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return eris.Wrapf(err, "cloudstore: open %s", file)
	}
	defer f.Close() //nolint:errcheck
	return m.bucket.Put(ctx, key, f)
}

// DownloadRun fetches runID into dir, creating it. Returns the file names
// written. A run with no objects is an error.
func (m *Mirror) DownloadRun(ctx context.Context, runID, dir string) ([]string, error) {
	prefix := m.RunKey(runID, "") + "/"
	keys, err := m.bucket.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, eris.Errorf("cloudstore: run %s not found in bucket", runID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "cloudstore: create %s", dir)
	}

	var files []string
	for _, key := range keys {
		name := strings.TrimPrefix(key, prefix)
		// Nested objects were not written by UploadRun.
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		if err := m.getFile(ctx, key, filepath.Join(dir, name)); err != nil {
			return files, err
		}
		files = append(files, name)
	}
	zap.L().Info("run downloaded", zap.String("component", "cloudstore"), zap.String("run_id", runID), zap.Int("files", len(files)))
	return files, nil
}

func (m *Mirror) getFile(ctx context.Context, key, file string) error {
	r, err := m.bucket.Open(ctx, key)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck

	tmp := file + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "cloudstore: create %s", tmp)
	}
	if _, err := f.ReadFrom(r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "cloudstore: download %s", key)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "cloudstore: close %s", tmp)
	}
	return os.Rename(tmp, file)
}

// EnsureRun downloads runID into dir when dir does not exist yet. It reports
// whether a download happened.
func (m *Mirror) EnsureRun(ctx context.Context, runID, dir string) (bool, error) {
	if _, err := os.Stat(dir); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, eris.Wrapf(err, "cloudstore: stat %s", dir)
	}
	if _, err := m.DownloadRun(ctx, runID, dir); err != nil {
		return false, err
	}
	return true, nil
}
