// Package tracker provides support for announcing torrents to HTTP trackers.
package tracker

import (
	"errors"
	"net"
	"time"
)

// AnnounceRequest contains the fields sent to the tracker.
type AnnounceRequest struct {
	Torrent Torrent
	Event   Event
	NumWant int
}

// AnnounceResponse is the decoded response of a successful announce.
type AnnounceResponse struct {
	Interval       time.Duration
	MinInterval    time.Duration
	Leechers       int32
	Seeders        int32
	WarningMessage string
	Peers          []*net.TCPAddr
}

// ErrDecode is returned when the tracker response cannot be decoded.
var ErrDecode = errors.New("cannot decode response")

// Error is the string that is sent by the tracker from announce or scrape.
type Error struct {
	FailureReason string
	RetryIn       time.Duration
}

func (e *Error) Error() string { return e.FailureReason }
