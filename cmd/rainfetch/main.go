package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/urfave/cli"
	"github.com/zeebo/bencode"

	"github.com/cenkalti/rainfetch/internal/jsonutil"
	"github.com/cenkalti/rainfetch/internal/logger"
	"github.com/cenkalti/rainfetch/internal/metainfo"
	"github.com/cenkalti/rainfetch/internal/stringutil"
	"github.com/cenkalti/rainfetch/torrent"
)

var (
	cfg = torrent.DefaultConfig
	log = logger.New("rainfetch")
)

func main() {
	app := cli.NewApp()
	app.Name = "rainfetch"
	app.Usage = "BitTorrent downloader"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config,c",
			Usage: "read config from `FILE`",
			Value: "~/.rainfetch.yaml",
		},
		cli.BoolFlag{
			Name:  "debug,d",
			Usage: "enable debug log",
		},
	}
	app.Before = handleBeforeCommand
	app.Commands = []cli.Command{
		{
			Name:      "decode",
			Usage:     "decode bencoded value and print as JSON",
			ArgsUsage: "VALUE",
			Action:    handleDecode,
		},
		{
			Name:      "info",
			Usage:     "print information in torrent file",
			ArgsUsage: "TORRENT",
			Action:    handleInfo,
		},
		{
			Name:      "peers",
			Usage:     "announce torrent to tracker and print peer addresses",
			ArgsUsage: "TORRENT",
			Action:    handlePeers,
		},
		{
			Name:      "handshake",
			Usage:     "do BitTorrent handshake with a peer and print its peer id",
			ArgsUsage: "TORRENT HOST:PORT",
			Action:    handleHandshake,
		},
		{
			Name:      "download-piece",
			Usage:     "download a single piece",
			ArgsUsage: "TORRENT INDEX",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "output,o",
					Usage: "write piece to `FILE`",
				},
				cli.StringFlag{
					Name:  "peer",
					Usage: "download from peer at `HOST:PORT` instead of peers from tracker",
				},
			},
			Action: handleDownloadPiece,
		},
		{
			Name:      "download",
			Usage:     "download all files in torrent",
			ArgsUsage: "TORRENT",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "output,o",
					Usage: "download into `DIR`",
				},
				cli.StringSliceFlag{
					Name:  "peer",
					Usage: "download from peer at `HOST:PORT` instead of peers from tracker, can be repeated",
				},
			},
			Action: handleDownload,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func handleBeforeCommand(c *cli.Context) error {
	logger.SetDebug(c.GlobalBool("debug"))
	loaded, err := torrent.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	cfg = *loaded
	return nil
}

// interruptContext returns a context that is cancelled on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newClient() (*torrent.Client, error) {
	return torrent.New(cfg)
}

func readTorrent(path string) (*metainfo.MetaInfo, error) {
	if path == "" {
		return nil, errors.New("torrent file is required")
	}
	f, err := os.Open(path) // nolint: gosec
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return metainfo.New(f)
}

func handleDecode(c *cli.Context) error {
	var v interface{}
	if err := bencode.DecodeString(c.Args().First(), &v); err != nil {
		return err
	}
	b, err := jsonutil.MarshalPretty(v)
	if err != nil {
		return err
	}
	_, _ = os.Stdout.Write(append(b, '\n'))
	return nil
}

type torrentInfo struct {
	Tracker     string
	Name        string
	Length      int64
	InfoHash    string
	PieceLength uint32
	NumPieces   uint32
	PieceHashes []string
}

func handleInfo(c *cli.Context) error {
	mi, err := readTorrent(c.Args().First())
	if err != nil {
		return err
	}
	info := torrentInfo{
		Tracker:     mi.Announce,
		Name:        stringutil.Printable(mi.Info.Name),
		Length:      mi.Info.TotalLength,
		InfoHash:    hex.EncodeToString(mi.Info.Hash[:]),
		PieceLength: mi.Info.PieceLength,
		NumPieces:   mi.Info.NumPieces,
	}
	for _, h := range mi.Info.PieceHashes() {
		info.PieceHashes = append(info.PieceHashes, hex.EncodeToString(h[:]))
	}
	b, err := jsonutil.MarshalCompactPretty(info)
	if err != nil {
		return err
	}
	_, _ = os.Stdout.Write(b)
	return nil
}

func handlePeers(c *cli.Context) error {
	mi, err := readTorrent(c.Args().First())
	if err != nil {
		return err
	}
	clt, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := interruptContext()
	defer cancel()
	peers, err := clt.Announce(ctx, mi)
	if err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Println(p)
	}
	return nil
}

func handleHandshake(c *cli.Context) error {
	mi, err := readTorrent(c.Args().Get(0))
	if err != nil {
		return err
	}
	clt, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := interruptContext()
	defer cancel()
	id, err := clt.Handshake(ctx, mi, c.Args().Get(1))
	if err != nil {
		return err
	}
	fmt.Println("Peer ID:", hex.EncodeToString(id[:]))
	return nil
}

func handleDownloadPiece(c *cli.Context) error {
	mi, err := readTorrent(c.Args().Get(0))
	if err != nil {
		return err
	}
	index, err := strconv.ParseUint(c.Args().Get(1), 10, 32)
	if err != nil {
		return fmt.Errorf("invalid piece index: %w", err)
	}
	output := c.String("output")
	if output == "" {
		return errors.New("output file is required")
	}
	clt, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := interruptContext()
	defer cancel()
	peer := c.String("peer")
	if peer == "" {
		peers, err := clt.Announce(ctx, mi)
		if err != nil {
			return err
		}
		if len(peers) == 0 {
			return torrent.ErrNoPeers
		}
		peer = peers[0]
	}
	data, err := clt.DownloadPiece(ctx, mi, peer, uint32(index))
	if err != nil {
		return err
	}
	if err = os.WriteFile(output, data, 0640); err != nil { // nolint: gosec
		return err
	}
	fmt.Printf("Piece %d downloaded to %s.\n", index, output)
	return nil
}

func handleDownload(c *cli.Context) error {
	mi, err := readTorrent(c.Args().First())
	if err != nil {
		return err
	}
	dir := c.String("output")
	if dir == "" {
		dir = cfg.DataDir
	}
	clt, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := interruptContext()
	defer cancel()
	if err = clt.DownloadFile(ctx, mi, dir, c.StringSlice("peer")); err != nil {
		return err
	}
	fmt.Printf("Downloaded %s to %s.\n", mi.Info.Name, dir)
	return nil
}
