package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alfredjeanlab/sessions/internal/codec"
)

// FileDestination replaces a local file with each export. The file is
// renamed into place so readers never observe a partial export.
type FileDestination struct {
	path     string
	compress bool
}

// NewFileDestination writes to path. With compress set the payload is a
// zstd frame and ".zst" is appended to path.
func NewFileDestination(path string, compress bool) *FileDestination {
	if compress {
		path += ".zst"
	}
	return &FileDestination{path: path, compress: compress}
}

func (d *FileDestination) Name() string { return "file:" + d.path }

// Path is the file the export lands in.
func (d *FileDestination) Path() string { return d.path }

func (d *FileDestination) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.compress {
		data = codec.Frame(data)
	}

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(d.path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp export: %w", err)
	}
	tmp := f.Name()
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmp, d.path)
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write export %s: %w", d.path, werr)
	}
	return nil
}
