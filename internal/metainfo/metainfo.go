// Package metainfo support for reading and writing torrent files.
package metainfo

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/zeebo/bencode"
)

// Creator is the string that is put into the created torrent by NewBytes function.
var Creator = "rainfetch"

// MetaInfo file dictionary
type MetaInfo struct {
	Info         Info
	Announce     string
	AnnounceList [][]string
}

// New returns a torrent from bencoded stream.
func New(r io.Reader) (*MetaInfo, error) {
	var ret MetaInfo
	var t struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     bencode.RawMessage `bencode:"announce"`
		AnnounceList bencode.RawMessage `bencode:"announce-list"`
	}
	err := bencode.NewDecoder(r).Decode(&t)
	if err != nil {
		return nil, err
	}
	if len(t.Info) == 0 {
		return nil, errors.New("no info dict in torrent file")
	}
	info, err := NewInfo(t.Info)
	if err != nil {
		return nil, err
	}
	ret.Info = *info
	if len(t.Announce) > 0 {
		var s string
		err = bencode.DecodeBytes(t.Announce, &s)
		if err == nil && isTrackerSupported(s) {
			ret.Announce = s
		}
	}
	if len(t.AnnounceList) > 0 {
		var ll [][]string
		err = bencode.DecodeBytes(t.AnnounceList, &ll)
		if err == nil {
			for _, tier := range ll {
				var ti []string
				for _, t := range tier {
					if isTrackerSupported(t) {
						ti = append(ti, t)
					}
				}
				if len(ti) > 0 {
					ret.AnnounceList = append(ret.AnnounceList, ti)
				}
			}
		}
	}
	if len(ret.AnnounceList) == 0 && ret.Announce != "" {
		ret.AnnounceList = [][]string{{ret.Announce}}
	}
	return &ret, nil
}

// Trackers returns the tracker URLs in the order they should be tried.
func (m *MetaInfo) Trackers() []string {
	var ret []string
	for _, tier := range m.AnnounceList {
		ret = append(ret, tier...)
	}
	return ret
}

// Only HTTP trackers are supported.
func isTrackerSupported(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// NewBytes creates a new torrent metadata file from given information.
func NewBytes(info []byte, trackers [][]string, comment string) ([]byte, error) {
	mi := struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     string             `bencode:"announce,omitempty"`
		AnnounceList [][]string         `bencode:"announce-list,omitempty"`
		Comment      string             `bencode:"comment,omitempty"`
		CreationDate int64              `bencode:"creation date"`
		CreatedBy    string             `bencode:"created by,omitempty"`
	}{
		Info:         info,
		Comment:      comment,
		CreationDate: time.Now().UTC().Unix(),
		CreatedBy:    Creator,
	}
	if len(trackers) > 0 && len(trackers[0]) > 0 {
		mi.Announce = trackers[0][0]
	}
	if len(trackers) > 1 || (len(trackers) == 1 && len(trackers[0]) > 1) {
		mi.AnnounceList = trackers
	}
	return bencode.EncodeBytes(mi)
}
