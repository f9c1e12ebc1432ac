package watermark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	apperrors "tap-reputation-poller/internal/errors"
)

// document is the on-disk format. Only lastTimestamp is recognised.
type document struct {
	LastTimestamp json.RawMessage `json:"lastTimestamp,omitempty"`
}

// FileStore keeps each watermark in its own JSON document. The key is the
// document path, resolved against dir when relative.
type FileStore struct {
	dir string
}

// NewFileStore builds a file-backed store rooted at dir ("" means the working directory).
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (f *FileStore) path(key string) string {
	if filepath.IsAbs(key) || f.dir == "" {
		return key
	}
	return filepath.Join(f.dir, key)
}

// Get reads the watermark document. A missing file or field means none.
func (f *FileStore) Get(ctx context.Context, key string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	path := f.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, apperrors.NewIO("read watermark", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return time.Time{}, false, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return time.Time{}, false, apperrors.NewIOf("decode watermark", "%s: %w", path, err)
	}

	ts, ok, err := decodeTimestamp(doc.LastTimestamp)
	if err != nil {
		return time.Time{}, false, apperrors.NewIOf("decode watermark", "%s: %w", path, err)
	}
	return ts, ok, nil
}

// Set replaces the whole document via a temp file and rename.
func (f *FileStore) Set(ctx context.Context, key string, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(Format(ts))
	if err != nil {
		return apperrors.NewIO("encode watermark", err)
	}
	payload, err := json.Marshal(document{LastTimestamp: value})
	if err != nil {
		return apperrors.NewIO("encode watermark", err)
	}

	path := f.path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.NewIO("create watermark dir", err)
	}

	tmp, err := os.CreateTemp(dir, ".watermark-*")
	if err != nil {
		return apperrors.NewIO("write watermark", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return apperrors.NewIO("write watermark", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperrors.NewIO("sync watermark", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewIO("write watermark", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return apperrors.NewIO("replace watermark", err)
	}
	return nil
}

func decodeTimestamp(raw json.RawMessage) (time.Time, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return time.Time{}, false, nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return time.Time{}, false, err
		}
		if s == "" {
			return time.Time{}, false, nil
		}
		ts, err := ParseTimestamp(s)
		if err != nil {
			return time.Time{}, false, err
		}
		return ts, true, nil
	}

	var secs decimal.Decimal
	if err := json.Unmarshal(trimmed, &secs); err != nil {
		return time.Time{}, false, err
	}
	return FromEpoch(secs), true, nil
}

var _ Store = (*FileStore)(nil)
