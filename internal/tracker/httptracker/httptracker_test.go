package httptracker_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	fhttp "github.com/chihaya/chihaya/frontend/http"
	"github.com/chihaya/chihaya/middleware"
	"github.com/chihaya/chihaya/storage"
	_ "github.com/chihaya/chihaya/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"

	"github.com/cenkalti/rainfetch/internal/tracker"
	"github.com/cenkalti/rainfetch/internal/tracker/httptracker"
)

const timeout = 2 * time.Second

func trackerLogic(t *testing.T) *middleware.Logic {
	responseConfig := middleware.ResponseConfig{
		AnnounceInterval: time.Minute,
	}
	ps, err := storage.NewPeerStore("memory", map[string]interface{}{})
	require.NoError(t, err)
	return middleware.NewLogic(responseConfig, ps, nil, nil)
}

func startHTTPTracker(t *testing.T) (stop func()) {
	lgc := trackerLogic(t)
	fe, err := fhttp.NewFrontend(lgc, fhttp.Config{
		Addr:         "127.0.0.1:5000",
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	require.NoError(t, err)
	return func() {
		errC := fe.Stop()
		errs := <-errC
		require.Empty(t, errs)
	}
}

func newTracker(t *testing.T, rawURL string) *httptracker.HTTPTracker {
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return httptracker.New(u, timeout, nil, "rainfetch", 2*1024*1024)
}

func TestHTTPTracker(t *testing.T) {
	defer startHTTPTracker(t)()

	trk := newTracker(t, "http://127.0.0.1:5000/announce")
	defer trk.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Seeder
	req := tracker.AnnounceRequest{
		Torrent: tracker.Torrent{
			InfoHash:  [20]byte{6},
			PeerID:    [20]byte{1},
			Port:      1111,
			BytesLeft: 0,
		},
		Event: tracker.EventStarted,
	}
	_, err := trk.Announce(ctx, req)
	require.NoError(t, err)

	// Leecher
	req = tracker.AnnounceRequest{
		Torrent: tracker.Torrent{
			InfoHash:  [20]byte{6},
			PeerID:    [20]byte{2},
			Port:      2222,
			BytesLeft: 1,
		},
		Event:   tracker.EventStarted,
		NumWant: 10,
	}
	resp, err := trk.Announce(ctx, req)
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, 1111, resp.Peers[0].Port)
	assert.Equal(t, time.Minute, resp.Interval)
}

func serve(t *testing.T, response interface{}, check func(q url.Values)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r.URL.Query())
		}
		b, err := bencode.EncodeBytes(response)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(b)
	}))
}

func TestAnnounceQuery(t *testing.T) {
	infoHash := [20]byte{'i', 'h'}
	peerID := [20]byte{'-', 'R', 'F'}
	srv := serve(t, map[string]interface{}{
		"interval": 900,
		"peers":    string(tracker.EncodePeersCompact([]*net.TCPAddr{{IP: net.IPv4(1, 2, 3, 4), Port: 6881}})),
	}, func(q url.Values) {
		assert.Equal(t, string(infoHash[:]), q.Get("info_hash"))
		assert.Equal(t, string(peerID[:]), q.Get("peer_id"))
		assert.Equal(t, "6881", q.Get("port"))
		assert.Equal(t, "0", q.Get("uploaded"))
		assert.Equal(t, "0", q.Get("downloaded"))
		assert.Equal(t, "100", q.Get("left"))
		assert.Equal(t, "1", q.Get("compact"))
		assert.Equal(t, "started", q.Get("event"))
		assert.Equal(t, "50", q.Get("numwant"))
		assert.Equal(t, "bar", q.Get("foo"))
	})
	defer srv.Close()

	trk := newTracker(t, srv.URL+"/announce?foo=bar")
	resp, err := trk.Announce(context.Background(), tracker.AnnounceRequest{
		Torrent: tracker.Torrent{InfoHash: infoHash, PeerID: peerID, Port: 6881, BytesLeft: 100},
		Event:   tracker.EventStarted,
		NumWant: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, 900*time.Second, resp.Interval)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "1.2.3.4:6881", resp.Peers[0].String())
}

func TestAnnounceDictionaryPeers(t *testing.T) {
	srv := serve(t, map[string]interface{}{
		"interval": 60,
		"peers": []map[string]interface{}{
			{"ip": "10.0.0.1", "port": 51413, "peer id": "abcdefghijklmnopqrst"},
			{"ip": "not an ip", "port": 1},
		},
	}, nil)
	defer srv.Close()

	resp, err := newTracker(t, srv.URL).Announce(context.Background(), tracker.AnnounceRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "10.0.0.1:51413", resp.Peers[0].String())
}

func TestAnnounceFailureReason(t *testing.T) {
	srv := serve(t, map[string]interface{}{"failure reason": "torrent not registered"}, nil)
	defer srv.Close()

	_, err := newTracker(t, srv.URL).Announce(context.Background(), tracker.AnnounceRequest{})
	var terr *tracker.Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "torrent not registered", terr.FailureReason)
}

func TestAnnounceStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "go away", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTracker(t, srv.URL).Announce(context.Background(), tracker.AnnounceRequest{})
	var serr *httptracker.StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusForbidden, serr.Code)
}

func TestAnnounceInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	_, err := newTracker(t, srv.URL).Announce(context.Background(), tracker.AnnounceRequest{})
	assert.ErrorIs(t, err, tracker.ErrDecode)
}

func TestAnnounceCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := newTracker(t, srv.URL).Announce(ctx, tracker.AnnounceRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAnnounceFiltersExternalIP(t *testing.T) {
	peers := []*net.TCPAddr{
		{IP: net.IPv4(1, 2, 3, 4), Port: 6881},
		{IP: net.IPv4(5, 6, 7, 8), Port: 6882},
	}
	srv := serve(t, map[string]interface{}{
		"interval":    60,
		"complete":    3,
		"incomplete":  7,
		"peers":       string(tracker.EncodePeersCompact(peers)),
		"external ip": string([]byte{1, 2, 3, 4}),
	}, func(q url.Values) {
		assert.Empty(t, q.Get("trackerid"))
	})
	defer srv.Close()

	resp, err := newTracker(t, srv.URL).Announce(context.Background(), tracker.AnnounceRequest{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), resp.Seeders)
	assert.Equal(t, int32(7), resp.Leechers)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "5.6.7.8:6882", resp.Peers[0].String())
}
