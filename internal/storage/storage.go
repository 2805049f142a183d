// Package storage writes verified pieces into the files of a torrent.
package storage

import (
	"errors"
	"fmt"
	"io"

	"github.com/cenkalti/rainfetch/internal/filesection"
)

// Storage is an interface for opening torrent files.
type Storage interface {
	Open(name string, size int64) (f File, exists bool, err error)
}

// File interface for reading/writing torrent data.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// FileSpec is the relative path and length of a file in the torrent.
type FileSpec struct {
	Path   string
	Length int64
}

var errPieceOutOfRange = errors.New("piece is out of torrent range")

// Files is the ordered set of opened files of a torrent.
// Pieces are written across file boundaries.
type Files struct {
	files       []File
	sections    []filesection.File
	totalLength int64
}

// Open all files in specs with sto. Files are created and truncated to their lengths.
func Open(sto Storage, specs []FileSpec) (*Files, error) {
	f := &Files{}
	for _, spec := range specs {
		file, _, err := sto.Open(spec.Path, spec.Length)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		f.files = append(f.files, file)
		f.sections = append(f.sections, filesection.File{File: file, Length: spec.Length})
		f.totalLength += spec.Length
	}
	return f, nil
}

// WritePiece writes the data of piece at index to files.
// All pieces except the last one must have pieceLength bytes.
func (f *Files) WritePiece(index, pieceLength uint32, data []byte) error {
	offset := int64(index) * int64(pieceLength)
	if offset+int64(len(data)) > f.totalLength {
		return fmt.Errorf("%w: #%d", errPieceOutOfRange, index)
	}
	sections, err := filesection.Find(f.sections, offset, int64(len(data)))
	if err != nil {
		return err
	}
	_, err = sections.Write(data)
	return err
}

// ReadPiece reads back the data of piece at index.
func (f *Files) ReadPiece(index, pieceLength, length uint32) ([]byte, error) {
	sections, err := filesection.Find(f.sections, int64(index)*int64(pieceLength), int64(length))
	if err != nil {
		return nil, err
	}
	b := make([]byte, length)
	return b, sections.ReadFull(b)
}

// Close all files. Calling Close more than once has no effect.
func (f *Files) Close() error {
	var result error
	for _, file := range f.files {
		if err := file.Close(); err != nil && result == nil {
			result = err
		}
	}
	f.files = nil
	return result
}
