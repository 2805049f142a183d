// Package filestorage implements Storage interface that uses files on disk as storage.
package filestorage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cenkalti/rainfetch/internal/storage"
)

// FileStorage opens files under a destination directory.
type FileStorage struct {
	dest string
}

// New returns a FileStorage that keeps files under dest.
func New(dest string) (*FileStorage, error) {
	var err error
	dest, err = filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	return &FileStorage{dest: dest}, nil
}

var _ storage.Storage = (*FileStorage)(nil)

// Dest is the absolute path of the destination directory.
func (s *FileStorage) Dest() string {
	return s.dest
}

// Open the file at name relative to Dest. The file is created if it does not exist.
// Its size is set to size. exists is true if the file was already there.
func (s *FileStorage) Open(name string, size int64) (f storage.File, exists bool, err error) {
	name = filepath.Clean(name)
	if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
		err = fmt.Errorf("file is outside of destination: %q", name)
		return
	}

	// All files are saved under dest.
	name = filepath.Join(s.dest, name)

	// Create containing dir if not exists.
	err = os.MkdirAll(filepath.Dir(name), os.ModeDir|0750)
	if err != nil {
		return
	}

	// Make sure OS file is closed in case of any error.
	var of *os.File
	defer func() {
		if err != nil && of != nil {
			_ = of.Close()
		}
	}()

	// Open OS file.
	const mode = 0640
	of, err = os.OpenFile(name, os.O_RDWR, mode) // nolint: gosec
	if os.IsNotExist(err) {
		of, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE, mode) // nolint: gosec
		if err != nil {
			return
		}
		f = of
		err = of.Truncate(size)
		return
	}
	if err != nil {
		return
	}
	f = of
	exists = true
	fi, err := of.Stat()
	if err != nil {
		return
	}
	if fi.Size() != size {
		err = of.Truncate(size)
	}
	return
}
