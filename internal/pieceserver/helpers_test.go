package pieceserver_test

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lanshare/peer/internal/manifest"
	"github.com/lanshare/peer/internal/wire"
)

func blockRoundTrip(t *testing.T, addr, request string) []byte {
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
	data, err := wire.ReadBlock(conn)
	if err != nil {
		t.Fatalf("read block: %v", err)
	}
	return data
}

// startFakeRegistryServing answers every "get" with m's JSON, mimicking
// original_source/Server.py closely enough for a client round trip.
func startFakeRegistryServing(t *testing.T, m *manifest.Manifest) (addr string, stop func()) {
	t.Helper()
	body, err := m.Marshal()
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	return startFakeRegistryConn(t, func(body2, cmd string) string {
		if cmd == "get" {
			return string(body)
		}
		return "Added"
	})
}

// startFakeRegistryCapture answers "add" by capturing the published
// manifest into *published, and "get" with "File not found" (not needed
// by the upload-only tests that use it).
func startFakeRegistryCapture(t *testing.T, published **manifest.Manifest) (addr string, stop func()) {
	t.Helper()
	return startFakeRegistryConn(t, func(body, cmd string) string {
		if cmd == "add" {
			m, err := manifest.Unmarshal([]byte(body))
			if err == nil {
				*published = m
			}
			return "Added"
		}
		return "File not found"
	})
}

func startFakeRegistryConn(t *testing.T, handle func(body, cmd string) string) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				line, err := wire.ReadLine(bufio.NewReader(conn))
				if err != nil {
					return
				}
				idx := strings.LastIndex(line, " ")
				if idx < 0 {
					return
				}
				body, cmd := line[:idx], line[idx+1:]
				_ = wire.WriteLine(conn, handle(body, cmd))
			}()
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

// startFakeTrackerAcceptAll answers every tracker HTTP call with 200 OK,
// enough to exercise the best-effort announce paths.
func startFakeTrackerAcceptAll(t *testing.T) (baseURL string, stop func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	return srv.URL, srv.Close
}
