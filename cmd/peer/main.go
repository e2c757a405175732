// Command peer is the CLI entrypoint for a LAN file-sharing peer node,
// per spec.md section 2 and section 4.2. It either runs the piece server
// (`serve`) or acts as a thin local control-channel client that dials a
// peer's own listener and issues one of the control commands (`upload`,
// `download`, `construct`), matching spec.md section 4.2's "The upload
// and download commands are issued by a local control channel" design.
// `list` is the one supplemented command (SPEC_FULL.md section 9) that
// talks to the tracker directly rather than through the control channel.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lanshare/peer/internal/config"
	"github.com/lanshare/peer/internal/peerlog"
	"github.com/lanshare/peer/internal/pieceserver"
	"github.com/lanshare/peer/internal/trackercli"
	"github.com/lanshare/peer/internal/wire"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg := config.Default()
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	finish := config.RegisterFlags(fs, &cfg)
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(1)
	}
	finish()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(cfg)
	case "upload":
		err = runControlCommand(cfg, fs.Arg(0)+" upload")
	case "download":
		err = runControlCommand(cfg, fs.Arg(0)+" download")
	case "construct":
		err = runControlCommand(cfg, fs.Arg(0)+" construct")
	case "list":
		err = runList(cfg)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		peerlog.Error("%v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: peer <serve|upload|download|construct|list> [flags] [path]\n")
}

// runServe starts the piece server and blocks until SIGINT/SIGTERM, per
// spec.md section 4.2's single multiplexed listener.
func runServe(cfg config.Config) error {
	srv := pieceserver.New(cfg)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		peerlog.Info("pieceserver: shutting down")
		_ = srv.Close()
	}()

	return srv.ListenAndServe()
}

// runControlCommand dials this peer's own listener and issues a single
// framed request, matching the original GUI's pattern of talking to its
// own embedded peer thread over a loopback socket instead of calling
// into it directly.
func runControlCommand(cfg config.Config, request string) error {
	conn, err := net.DialTimeout("tcp", cfg.ListenAddr, cfg.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("peer: connect to %s: %w", cfg.ListenAddr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(cfg.PieceTimeout))

	if err := wire.WriteLine(conn, request); err != nil {
		return fmt.Errorf("peer: send request: %w", err)
	}

	resp, err := wire.ReadLine(bufio.NewReader(conn))
	if err != nil {
		return fmt.Errorf("peer: read response: %w", err)
	}

	fmt.Println(resp)
	if resp != "Response OK" {
		return fmt.Errorf("peer: %s", resp)
	}
	return nil
}

// runList is the CLI descendant of original_source/Client2.py's "Show"
// button (show_files_worker), talking to the tracker directly since it
// needs no local holdings or control-channel round trip.
func runList(cfg config.Config) error {
	client := trackercli.New(cfg.TrackerURL, "", 0, cfg.ConnectTimeout)
	files, err := client.ListFiles()
	if err != nil {
		return fmt.Errorf("peer: list: %w", err)
	}
	for _, f := range files {
		fmt.Println(f)
	}
	return nil
}
