// Package config centralizes the peer's runtime configuration: the
// tracker and registry addresses, the piece server's listen address, the
// output directory, and the timeouts spec.md section 5 asks
// implementers to add ("Implementers must add connect, read, and
// overall-operation timeouts"). The source hardcoded these as constants
// (the teacher's tracker.go embeds literal tracker URLs and a literal
// port 6881); this exposes them as a struct with flag-based overrides
// instead, per spec.md section 6 ("implementers should expose them as
// config").
package config

import (
	"flag"
	"time"
)

// Config holds a peer's addresses, output location and timeouts.
type Config struct {
	ListenAddr   string
	TrackerURL   string
	RegistryAddr string
	OutputDir    string

	ConnectTimeout time.Duration
	BlockTimeout   time.Duration
	PieceTimeout   time.Duration

	// Workers bounds the number of connections the piece server handles
	// at once and the number of piece fetchers the download engine runs
	// at once (each piece's block fetchers run inside its piece's slot),
	// per spec.md section 5's recommendation to back unbounded goroutine
	// fan-out with a bounded pool.
	Workers int
}

// Default returns the recommended defaults from spec.md section 5: 5s
// connect, 30s per block, 5m per piece.
func Default() Config {
	return Config{
		ListenAddr:     "0.0.0.0:5005",
		TrackerURL:     "http://127.0.0.1:8000",
		RegistryAddr:   "127.0.0.1:6000",
		OutputDir:      "output",
		ConnectTimeout: 5 * time.Second,
		BlockTimeout:   30 * time.Second,
		PieceTimeout:   5 * time.Minute,
		Workers:        32,
	}
}

// RegisterFlags registers c's fields on fs, defaulting to c's current
// values, and returns a function that must be called after fs.Parse to
// finish populating c.
func RegisterFlags(fs *flag.FlagSet, c *Config) func() {
	listen := fs.String("listen", c.ListenAddr, "address the piece server listens on")
	tracker := fs.String("tracker", c.TrackerURL, "tracker base URL")
	registry := fs.String("registry", c.RegistryAddr, "manifest registry address")
	output := fs.String("output", c.OutputDir, "directory reconstructed downloads are written to")
	connect := fs.Duration("connect-timeout", c.ConnectTimeout, "peer connect timeout")
	block := fs.Duration("block-timeout", c.BlockTimeout, "per-block fetch timeout")
	pieceT := fs.Duration("piece-timeout", c.PieceTimeout, "per-piece fetch timeout")
	workers := fs.Int("workers", c.Workers, "worker pool size for connection handling and fetch fan-out")

	return func() {
		c.ListenAddr = *listen
		c.TrackerURL = *tracker
		c.RegistryAddr = *registry
		c.OutputDir = *output
		c.ConnectTimeout = *connect
		c.BlockTimeout = *block
		c.PieceTimeout = *pieceT
		c.Workers = *workers
	}
}
