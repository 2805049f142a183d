// Package filesection maps a byte range of the concatenated torrent data onto the files that contain it.
package filesection

import "io"

// Section of a file.
type Section struct {
	File   ReadWriterAt
	Offset int64
	Length int64
}

// ReadWriterAt is the interface of files that sections point to.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// File is an entry in the ordered file list of a torrent.
type File struct {
	File   ReadWriterAt
	Length int64
}

// Sections is contiguous sections of files. When piece hashes in torrent file is being calculated
// all files are concatenated and splitted into pieces in length specified in the torrent file.
type Sections []Section

// Find returns the sections of files that hold length bytes starting from offset in the concatenated data.
// Zero length files in the range are skipped.
func Find(files []File, offset, length int64) (Sections, error) {
	var ret Sections
	var fileBegin int64
	for _, f := range files {
		fileEnd := fileBegin + f.Length
		if length > 0 && offset < fileEnd && f.Length > 0 {
			begin := offset - fileBegin
			n := f.Length - begin
			if n > length {
				n = length
			}
			ret = append(ret, Section{File: f.File, Offset: begin, Length: n})
			offset += n
			length -= n
		}
		fileBegin = fileEnd
	}
	if length > 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return ret, nil
}

// Length returns the total number of bytes in sections.
func (s Sections) Length() int64 {
	var n int64
	for _, sec := range s {
		n += sec.Length
	}
	return n
}

// ReadFull reads all sections into buf.
func (s Sections) ReadFull(buf []byte) error {
	readers := make([]io.Reader, len(s))
	for i := range s {
		readers[i] = io.NewSectionReader(s[i].File, s[i].Offset, s[i].Length)
	}
	_, err := io.ReadFull(io.MultiReader(readers...), buf)
	return err
}

// Write implements io.Writer interface.
// It writes the bytes in p into files in s.
// Calling write does not change the current position in s,
// so len(p) must be equal to total length of the all files in s in order to issue a full write.
func (s Sections) Write(p []byte) (n int, err error) {
	if int64(len(p)) != s.Length() {
		return 0, io.ErrShortWrite
	}
	var m int
	for _, sec := range s {
		m, err = sec.File.WriteAt(p[:sec.Length], sec.Offset)
		n += m
		if err != nil {
			return
		}
		if int64(m) < sec.Length {
			err = io.ErrShortWrite
			return
		}
		p = p[m:]
	}
	return
}
