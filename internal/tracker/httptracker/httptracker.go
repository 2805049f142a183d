// Package httptracker announces torrents to HTTP trackers.
package httptracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zeebo/bencode"

	"github.com/cenkalti/rainfetch/internal/logger"
	"github.com/cenkalti/rainfetch/internal/tracker"
)

var errResponseTooLarge = errors.New("tracker response is too large")

// HTTPTracker is a tracker that is reached over HTTP or HTTPS.
type HTTPTracker struct {
	url               *url.URL
	log               logger.Logger
	http              *http.Client
	transport         *http.Transport
	userAgent         string
	maxResponseLength int64
}

// response is the bencoded dictionary returned from an announce.
// Only the keys used by rainfetch are decoded.
type response struct {
	FailureReason  string             `bencode:"failure reason"`
	RetryIn        string             `bencode:"retry in"`
	WarningMessage string             `bencode:"warning message"`
	Interval       int32              `bencode:"interval"`
	MinInterval    int32              `bencode:"min interval"`
	Seeders        int32              `bencode:"complete"`
	Leechers       int32              `bencode:"incomplete"`
	Peers          bencode.RawMessage `bencode:"peers"`
	// Our address as seen by the tracker. It is removed from the peer list.
	ExternalIP []byte `bencode:"external ip"`
}

// New returns a new HTTPTracker announcing to u. If t is nil, a new Transport is created for the tracker.
func New(u *url.URL, timeout time.Duration, t *http.Transport, userAgent string, maxResponseLength int64) *HTTPTracker {
	if t == nil {
		t = &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: timeout,
			}).DialContext,
			TLSHandshakeTimeout: timeout,
			DisableKeepAlives:   true,
		}
	}
	return &HTTPTracker{
		url:       u,
		log:       logger.New("tracker " + u.String()),
		transport: t,
		http: &http.Client{
			Timeout:   timeout,
			Transport: t,
		},
		userAgent:         userAgent,
		maxResponseLength: maxResponseLength,
	}
}

// Announce the torrent and return the peers in the response.
// Failure reason sent by the tracker is returned as *tracker.Error.
func (t *HTTPTracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	q := t.url.Query()
	q.Set("info_hash", string(req.Torrent.InfoHash[:]))
	q.Set("peer_id", string(req.Torrent.PeerID[:]))
	q.Set("port", strconv.Itoa(req.Torrent.Port))
	q.Set("uploaded", strconv.FormatInt(req.Torrent.BytesUploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.Torrent.BytesDownloaded, 10))
	q.Set("left", strconv.FormatInt(req.Torrent.BytesLeft, 10))
	q.Set("compact", "1")
	q.Set("no_peer_id", "1")
	q.Set("numwant", strconv.Itoa(req.NumWant))
	if req.Event != tracker.EventNone {
		q.Set("event", req.Event.String())
	}

	u := *t.url
	u.RawQuery = q.Encode()
	t.log.Debugf("making request to: %q", u.String())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	resp, err := t.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := t.readBody(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			Code:   resp.StatusCode,
			Header: resp.Header,
			Body:   string(body),
		}
	}

	var r response
	if err = bencode.DecodeBytes(body, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", tracker.ErrDecode, err)
	}
	if r.WarningMessage != "" {
		t.log.Warning(r.WarningMessage)
	}
	if r.FailureReason != "" {
		retryIn, _ := strconv.Atoi(r.RetryIn)
		return nil, &tracker.Error{
			FailureReason: r.FailureReason,
			RetryIn:       time.Duration(retryIn) * time.Minute,
		}
	}

	// Peers may be in binary or dictionary model.
	var peers []*net.TCPAddr
	if len(r.Peers) > 0 {
		if r.Peers[0] == 'l' {
			peers, err = parsePeersDictionary(r.Peers)
		} else {
			var b []byte
			err = bencode.DecodeBytes(r.Peers, &b)
			if err == nil {
				peers, err = tracker.DecodePeersCompact(b)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", tracker.ErrDecode, err)
		}
	}

	// Filter external IP
	if len(r.ExternalIP) != 0 {
		for i, p := range peers {
			if bytes.Equal(p.IP.To4(), r.ExternalIP) {
				peers[i], peers = peers[len(peers)-1], peers[:len(peers)-1]
				break
			}
		}
	}

	return &tracker.AnnounceResponse{
		Interval:       time.Duration(r.Interval) * time.Second,
		MinInterval:    time.Duration(r.MinInterval) * time.Second,
		Leechers:       r.Leechers,
		Seeders:        r.Seeders,
		WarningMessage: r.WarningMessage,
		Peers:          peers,
	}, nil
}

func (t *HTTPTracker) readBody(r io.Reader) ([]byte, error) {
	if t.maxResponseLength <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, t.maxResponseLength+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > t.maxResponseLength {
		return nil, errResponseTooLarge
	}
	return b, nil
}

func parsePeersDictionary(b bencode.RawMessage) ([]*net.TCPAddr, error) {
	var peers []struct {
		IP   string `bencode:"ip"`
		Port uint16 `bencode:"port"`
	}
	err := bencode.DecodeBytes(b, &peers)
	if err != nil {
		return nil, err
	}

	addrs := make([]*net.TCPAddr, 0, len(peers))
	for _, p := range peers {
		ip := net.ParseIP(p.IP)
		if ip == nil {
			continue
		}
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: int(p.Port)})
	}
	return addrs, nil
}

// Close idle connections of the tracker.
func (t *HTTPTracker) Close() error {
	t.transport.CloseIdleConnections()
	return nil
}
