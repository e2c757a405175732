package pieceserver_test

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lanshare/peer/internal/config"
	"github.com/lanshare/peer/internal/manifest"
	"github.com/lanshare/peer/internal/pieceserver"
	"github.com/lanshare/peer/internal/wire"
)

// startServer spins up a Server on an ephemeral port against a fake
// registry/tracker, returning the bound address and the Server (callers
// Close it).
func startServer(t *testing.T, registryAddr, trackerURL, outputDir string) (addr string, srv *pieceserver.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.RegistryAddr = registryAddr
	cfg.TrackerURL = trackerURL
	cfg.OutputDir = outputDir
	cfg.ConnectTimeout = 2 * time.Second
	cfg.BlockTimeout = 2 * time.Second
	cfg.Workers = 4

	srv = pieceserver.New(cfg)

	go func() {
		_ = srv.ListenAndServe()
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := srv.Addr(); a != nil {
			return a.String(), srv
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never started listening")
	return "", nil
}

func roundTrip(t *testing.T, addr, request string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	if err := wire.WriteLine(conn, request); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := wire.ReadLine(bufio.NewReader(conn))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp
}

func TestUploadPublishesAndHolds(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "hello.bin")
	if err := os.WriteFile(srcPath, []byte("hello pack of bytes"), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	var published *manifest.Manifest
	registryAddr, stopRegistry := startFakeRegistryCapture(t, &published)
	defer stopRegistry()

	trackerURL, stopTracker := startFakeTrackerAcceptAll(t)
	defer stopTracker()

	outDir := t.TempDir()
	addr, srv := startServer(t, registryAddr, trackerURL, outDir)
	defer srv.Close()

	resp := roundTrip(t, addr, srcPath+" upload")
	if resp != "Response OK" {
		t.Fatalf("upload response = %q, want Response OK", resp)
	}
	if published == nil {
		t.Fatal("registry never received a published manifest")
	}
	if published.Info.Name != "hello.bin" {
		t.Errorf("published manifest name = %q, want hello.bin", published.Info.Name)
	}
	if !srv.Holdings.HasRoot("hello.bin") {
		t.Error("server holdings missing hello.bin after upload")
	}
}

func TestLengthAndBlockServeHeldPiece(t *testing.T) {
	registryAddr, stopRegistry := startFakeRegistryCapture(t, new(*manifest.Manifest))
	defer stopRegistry()
	trackerURL, stopTracker := startFakeTrackerAcceptAll(t)
	defer stopTracker()

	outDir := t.TempDir()
	addr, srv := startServer(t, registryAddr, trackerURL, outDir)
	defer srv.Close()

	data := []byte("0123456789abcdef")
	srv.Holdings.Put("hello.bin", 0, data)

	lengthResp := roundTrip(t, addr, "hello.bin 0 length")
	if lengthResp != "16" {
		t.Errorf("length response = %q, want 16", lengthResp)
	}

	block := blockRoundTrip(t, addr, "0-0 hello.bin block")
	if string(block) != string(data) {
		t.Errorf("block response = %q, want %q", block, data)
	}
}

func TestLengthMissingPieceReturnsZero(t *testing.T) {
	registryAddr, stopRegistry := startFakeRegistryCapture(t, new(*manifest.Manifest))
	defer stopRegistry()
	trackerURL, stopTracker := startFakeTrackerAcceptAll(t)
	defer stopTracker()

	outDir := t.TempDir()
	addr, srv := startServer(t, registryAddr, trackerURL, outDir)
	defer srv.Close()

	resp := roundTrip(t, addr, "nosuchfile 0 length")
	if resp != "0" {
		t.Errorf("length response for missing root = %q, want 0", resp)
	}
}

func TestConstructFailsWithoutHeldPieces(t *testing.T) {
	m := &manifest.Manifest{
		Announce: "http://tracker.local",
		Info: manifest.Info{
			PieceLength: 102400,
			Pieces:      strings.Repeat("a", 40),
			Name:        "hello.bin",
			Length:      100,
		},
	}
	registryAddr, stopRegistry := startFakeRegistryServing(t, m)
	defer stopRegistry()
	trackerURL, stopTracker := startFakeTrackerAcceptAll(t)
	defer stopTracker()

	outDir := t.TempDir()
	addr, srv := startServer(t, registryAddr, trackerURL, outDir)
	defer srv.Close()

	resp := roundTrip(t, addr, "hello.bin construct")
	if resp != "Response Failed" {
		t.Errorf("construct response = %q, want Response Failed", resp)
	}
}
