// Package staging writes uploaded audio to a request-scoped temporary
// location and guarantees its removal when the request finishes.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrEmptyUpload means the uploaded part contained zero bytes.
var ErrEmptyUpload = errors.New("uploaded file is empty")

// ErrMissingFilename means the uploaded part carried no filename. The
// original name is required because the decoder selects by extension.
var ErrMissingFilename = errors.New("upload has no filename")

// Staged is a staged copy of one uploaded file. It is owned by a single
// request; Release must be called on every exit path.
type Staged struct {
	Path         string
	OriginalName string
	Size         int64

	dir string
}

// Stage copies the upload into a uuid-keyed directory under the OS temp
// root, keeping the original basename so decoders can sniff by extension.
// Concurrent uploads never share a path.
func Stage(filename string, r io.Reader) (*Staged, error) {
	if filename == "" {
		return nil, ErrMissingFilename
	}

	// Strip any client-supplied directory components.
	base := filepath.Base(filepath.Clean(filename))
	if base == "." || base == string(filepath.Separator) {
		return nil, ErrMissingFilename
	}

	dir := filepath.Join(os.TempDir(), "pitchd-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	path := filepath.Join(dir, base)
	f, err := os.Create(path)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("create staged file: %w", err)
	}

	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("write staged file: %w", err)
	}
	if size == 0 {
		os.RemoveAll(dir)
		return nil, ErrEmptyUpload
	}

	return &Staged{
		Path:         path,
		OriginalName: base,
		Size:         size,
		dir:          dir,
	}, nil
}

// Release removes the staged file and its directory. Safe to call more
// than once.
func (s *Staged) Release() error {
	if s.dir == "" {
		return nil
	}
	err := os.RemoveAll(s.dir)
	s.dir = ""
	return err
}
