package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zeebo/bencode"
)

var (
	errInvalidPieceData   = errors.New("invalid piece data")
	errInvalidPieceLength = errors.New("invalid piece length")
	errZeroLength         = errors.New("torrent has no data")
)

// Info contains information about torrent.
type Info struct {
	PieceLength uint32     `bencode:"piece length" json:"piece_length"`
	Pieces      []byte     `bencode:"pieces" json:"-"`
	Name        string     `bencode:"name" json:"name"`
	Length      int64      `bencode:"length" json:"length,omitempty"` // Single File Mode
	Files       []FileDict `bencode:"files" json:"files,omitempty"`   // Multiple File mode

	// Calculated fileds
	Hash        [20]byte `bencode:"-" json:"-"`
	TotalLength int64    `bencode:"-" json:"total_length"`
	NumPieces   uint32   `bencode:"-" json:"num_pieces"`
	Bytes       []byte   `bencode:"-" json:"-"`
}

// FileDict is a file entry in a multi-file torrent.
type FileDict struct {
	Length int64    `bencode:"length" json:"length"`
	Path   []string `bencode:"path" json:"path"`
}

// NewInfo returns info from bencoded bytes in b.
// Info hash is calculated over b as is.
func NewInfo(b []byte) (*Info, error) {
	var i Info
	if err := bencode.DecodeBytes(b, &i); err != nil {
		return nil, err
	}
	if i.PieceLength == 0 {
		return nil, errInvalidPieceLength
	}
	if uint32(len(i.Pieces))%sha1.Size != 0 {
		return nil, errInvalidPieceData
	}
	// ".." is not allowed in file names
	for _, file := range i.Files {
		for _, path := range file.Path {
			if strings.TrimSpace(path) == ".." {
				return nil, fmt.Errorf("invalid file name: %q", filepath.Join(file.Path...))
			}
		}
	}
	if strings.TrimSpace(i.Name) == ".." {
		return nil, fmt.Errorf("invalid torrent name: %q", i.Name)
	}
	i.NumPieces = uint32(len(i.Pieces)) / sha1.Size
	if !i.MultiFile() {
		i.TotalLength = i.Length
	} else {
		for _, f := range i.Files {
			if f.Length < 0 {
				return nil, fmt.Errorf("invalid file length: %d", f.Length)
			}
			i.TotalLength += f.Length
		}
	}
	if i.TotalLength <= 0 {
		return nil, errZeroLength
	}
	totalPieceDataLength := int64(i.PieceLength) * int64(i.NumPieces)
	delta := totalPieceDataLength - i.TotalLength
	if delta >= int64(i.PieceLength) || delta < 0 {
		return nil, errInvalidPieceData
	}
	i.Bytes = b
	i.Hash = sha1.Sum(b) // nolint: gosec
	return &i, nil
}

// MultiFile returns true if the torrent has a files list instead of a single length.
func (i *Info) MultiFile() bool {
	return len(i.Files) != 0
}

// HashOf returns the SHA-1 hash of the piece at index.
func (i *Info) HashOf(index uint32) [20]byte {
	var h [20]byte
	begin := index * sha1.Size
	copy(h[:], i.Pieces[begin:begin+sha1.Size])
	return h
}

// PieceHashes returns the hashes of all pieces in order.
func (i *Info) PieceHashes() [][20]byte {
	ret := make([][20]byte, i.NumPieces)
	for j := range ret {
		ret[j] = i.HashOf(uint32(j))
	}
	return ret
}

// PieceLengthOf returns the length of the piece at index. The last piece may be shorter.
func (i *Info) PieceLengthOf(index uint32) uint32 {
	if index == i.NumPieces-1 {
		return uint32(i.TotalLength - int64(i.PieceLength)*int64(index))
	}
	return i.PieceLength
}

// GetFiles returns the files in torrent as a slice, even if there is a single file.
func (i *Info) GetFiles() []FileDict {
	if i.MultiFile() {
		return i.Files
	}
	return []FileDict{{i.Length, []string{i.Name}}}
}

// NewInfoBytes returns a bencoded single-file info dictionary for data.
func NewInfoBytes(name string, data []byte, pieceLength uint32) ([]byte, error) {
	if pieceLength == 0 {
		return nil, errInvalidPieceLength
	}
	if len(data) == 0 {
		return nil, errZeroLength
	}
	var pieces []byte
	for begin := 0; begin < len(data); begin += int(pieceLength) {
		end := begin + int(pieceLength)
		if end > len(data) {
			end = len(data)
		}
		h := sha1.Sum(data[begin:end]) // nolint: gosec
		pieces = append(pieces, h[:]...)
	}
	info := struct {
		Length      int64  `bencode:"length"`
		Name        string `bencode:"name"`
		PieceLength uint32 `bencode:"piece length"`
		Pieces      []byte `bencode:"pieces"`
	}{
		Length:      int64(len(data)),
		Name:        name,
		PieceLength: pieceLength,
		Pieces:      pieces,
	}
	return bencode.EncodeBytes(info)
}
