// Package pieceserver implements the single TCP listener described in
// spec.md section 4.2: one accept loop, one goroutine per connection,
// dispatching the five text commands (upload, download, block, length,
// construct) that drive both the local control channel (upload/download/
// construct, issued by this peer's own CLI) and the inter-peer protocol
// (block/length, issued by other peers' download engines).
//
// Grounded on the teacher's ConnectToPeers/StartDownload goroutine-pool
// pattern (torrent/p2p.go) for the per-connection-goroutine shape, and on
// original_source/Client2.py's Peer.run/handle_client/stop for the exact
// command set, command parsing (split at the last space), and
// the self-dial shutdown trick.
package pieceserver

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/lanshare/peer/internal/chunker"
	"github.com/lanshare/peer/internal/config"
	"github.com/lanshare/peer/internal/download"
	"github.com/lanshare/peer/internal/manifest"
	"github.com/lanshare/peer/internal/peerlog"
	"github.com/lanshare/peer/internal/piece"
	"github.com/lanshare/peer/internal/registrycli"
	"github.com/lanshare/peer/internal/store"
	"github.com/lanshare/peer/internal/trackercli"
	"github.com/lanshare/peer/internal/wire"
)

const (
	responseOK     = "Response OK"
	responseFailed = "Response Failed"
)

// Server owns a peer's listening socket and every collaborator needed to
// answer the five commands of spec.md section 4.2.
type Server struct {
	Cfg      config.Config
	Holdings *store.Holdings
	Tracker  *trackercli.Client
	Registry *registrycli.Client
	Engine   *download.Engine

	mu   sync.Mutex
	ln   net.Listener
	done chan struct{}
}

// --------------------------------------------------------------------------------------------- //

/*
New wires a Server from cfg's addresses, sharing one Holdings store
between the piece server and the download engine, matching the
teacher's pattern of one shared in-memory state guarded by a mutex
rather than per-component copies.

Parameters:
  - cfg: Listen address, tracker/registry addresses, timeouts and worker
    pool size.

Returns:
  - *Server: Ready to ListenAndServe once constructed.
*/
func New(cfg config.Config) *Server {
	holdings := store.New()
	tracker := trackercli.New(cfg.TrackerURL, localIP(cfg.ListenAddr), portOf(cfg.ListenAddr), cfg.ConnectTimeout)
	registry := registrycli.New(cfg.RegistryAddr, cfg.ConnectTimeout)

	engine := download.New(tracker, registry, holdings, cfg)
	engine.ShowProgress = true

	return &Server{
		Cfg:      cfg,
		Holdings: holdings,
		Tracker:  tracker,
		Registry: registry,
		Engine:   engine,
		done:     make(chan struct{}),
	}
}

// --------------------------------------------------------------------------------------------- //

/*
ListenAndServe binds Cfg.ListenAddr and serves connections until Close
is called. It blocks until the listener is closed.

Parameters:
  - (none)

Returns:
  - error: Non-nil if the bind fails, or if Accept fails for a reason
    other than a Close-triggered shutdown.
*/
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	peerlog.Info("pieceserver: listening on %s", s.Cfg.ListenAddr)

	sem := make(chan struct{}, s.Cfg.Workers)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return err
			}
		}
		select {
		case <-s.done:
			conn.Close()
			return nil
		default:
		}

		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			s.handleConn(conn)
		}()
	}
}

// --------------------------------------------------------------------------------------------- //

/*
Addr returns the listener's bound address, or nil before ListenAndServe
has started listening. Useful when Cfg.ListenAddr uses an ephemeral
port (":0") and the caller needs the address actually bound.

Parameters:
  - (none)

Returns:
  - net.Addr: The bound listener address, or nil if not listening yet.
*/
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// --------------------------------------------------------------------------------------------- //

/*
Close stops accepting new connections. It self-dials once to unblock a
pending Accept, the same trick original_source/Client2.py's Peer.stop
uses against Python's blocking accept().

Parameters:
  - (none)

Returns:
  - error: Non-nil if the listener fails to close.
*/
func (s *Server) Close() error {
	close(s.done)

	s.mu.Lock()
	ln := s.ln
	addr := s.Cfg.ListenAddr
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	if conn, err := net.Dial("tcp", addr); err == nil {
		conn.Close()
	}
	return ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	for {
		line, err := wire.ReadLine(r)
		if err != nil || line == "" {
			return
		}
		s.dispatch(conn, line)
	}
}

// dispatch parses one framed request and writes its response, per the
// command table of spec.md section 4.2. The request is split at its last
// space into body and command, matching the original's
// `data.rsplit(' ', 1)`.
func (s *Server) dispatch(conn net.Conn, line string) {
	sep := strings.LastIndex(line, " ")
	if sep < 0 {
		return
	}
	body, cmd := line[:sep], line[sep+1:]

	switch cmd {
	case "upload":
		s.handleUpload(conn, body)
	case "download":
		s.handleDownload(conn, body)
	case "construct":
		s.handleConstruct(conn, body)
	case "length":
		s.handleLength(conn, body)
	case "block":
		s.handleBlock(conn, body)
	default:
		peerlog.Warn("pieceserver: unknown command %q", cmd)
	}
}

// handleUpload implements the control-channel `upload` command: chunk
// the local path, synthesize and publish its manifest, announce it to
// the tracker, and keep the pieces in local holdings so this peer can
// immediately serve them.
func (s *Server) handleUpload(conn net.Conn, path string) {
	result, err := chunker.Chunk(path, true)
	if err != nil {
		peerlog.Error("pieceserver: upload %s: %v", path, err)
		_ = wire.WriteLine(conn, responseFailed)
		return
	}

	m, err := chunker.Synthesize(s.Cfg.TrackerURL, result)
	if err != nil {
		peerlog.Error("pieceserver: upload %s: synthesize: %v", path, err)
		_ = wire.WriteLine(conn, responseFailed)
		return
	}

	if err := s.Registry.Publish(m); err != nil {
		peerlog.Error("pieceserver: upload %s: publish: %v", path, err)
		_ = wire.WriteLine(conn, responseFailed)
		return
	}

	pieces := make(map[int][]byte, len(result.Pieces))
	for i, p := range result.Pieces {
		pieces[i] = p
	}
	s.Holdings.PutAll(result.Name, pieces)

	indices := make([]int, len(result.Pieces))
	for i := range result.Pieces {
		indices[i] = i
	}
	s.Tracker.AnnounceUpload(result.Name, indices, fileDetails(m))

	peerlog.Info("pieceserver: uploaded %s as %s (%d pieces)", path, result.Name, len(result.Pieces))
	_ = wire.WriteLine(conn, responseOK)
}

func fileDetails(m *manifest.Manifest) []trackercli.FileDetail {
	if m.Info.Kind() == manifest.SingleFile {
		return nil
	}
	details := make([]trackercli.FileDetail, len(m.Info.Files))
	for i, f := range m.Info.Files {
		details[i] = trackercli.FileDetail{Name: f.JoinedPath(), Length: f.Length}
	}
	return details
}

// handleDownload implements the control-channel `download` command: run
// the download engine end to end and report success or failure.
func (s *Server) handleDownload(conn net.Conn, subpath string) {
	if err := s.Engine.Download(subpath); err != nil {
		peerlog.Error("pieceserver: download %s: %v", subpath, err)
		_ = wire.WriteLine(conn, responseFailed)
		return
	}
	_ = wire.WriteLine(conn, responseOK)
}

// handleConstruct implements the control-channel `construct` command:
// reconstruct a previously downloaded object from local holdings only.
func (s *Server) handleConstruct(conn net.Conn, subpath string) {
	if err := s.Engine.Construct(subpath); err != nil {
		peerlog.Error("pieceserver: construct %s: %v", subpath, err)
		_ = wire.WriteLine(conn, responseFailed)
		return
	}
	_ = wire.WriteLine(conn, responseOK)
}

// handleLength implements the inter-peer `length` command: body is
// "<root_name> <piece_index>". A missing root or piece reports length 0
// rather than raising, per spec.md section 4.2's normalization note.
func (s *Server) handleLength(conn net.Conn, body string) {
	sep := strings.LastIndex(body, " ")
	if sep < 0 {
		_ = wire.WriteLine(conn, "0")
		return
	}
	root, idxStr := body[:sep], body[sep+1:]
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		_ = wire.WriteLine(conn, "0")
		return
	}

	data, _ := s.Holdings.Get(root, idx)
	_ = wire.WriteLine(conn, strconv.Itoa(len(data)))
}

// handleBlock implements the inter-peer `block` command: body is
// "<piece_index>-<block_offset> <root_name>". A missing root, missing
// piece, or out-of-range offset responds with empty bytes rather than
// raising, per spec.md section 4.2's normalization note.
func (s *Server) handleBlock(conn net.Conn, body string) {
	sep := strings.LastIndex(body, " ")
	if sep < 0 {
		_ = wire.WriteBlock(conn, nil)
		return
	}
	head, root := body[:sep], body[sep+1:]

	parts := strings.SplitN(head, "-", 2)
	if len(parts) != 2 {
		_ = wire.WriteBlock(conn, nil)
		return
	}
	idx, err1 := strconv.Atoi(parts[0])
	offset, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		_ = wire.WriteBlock(conn, nil)
		return
	}

	data, ok := s.Holdings.Get(root, idx)
	if !ok || offset < 0 || offset >= int64(len(data)) {
		_ = wire.WriteBlock(conn, nil)
		return
	}

	end := offset + piece.BlockSize
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	_ = wire.WriteBlock(conn, data[offset:end])
}

func portOf(listenAddr string) int {
	_, p, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}

// localIP resolves the outward-facing IP this peer advertises to the
// tracker. If listenAddr names a specific host, that host is returned.
// Otherwise it connects a UDP socket to 8.8.8.8:80 (which sends no
// packet) and returns the socket's local address, the usual Go idiom for
// "what is my non-loopback IP"; if that fails it returns 127.0.0.1.
func localIP(listenAddr string) string {
	host, _, err := net.SplitHostPort(listenAddr)
	if err == nil && host != "" && host != "0.0.0.0" {
		return host
	}

	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
