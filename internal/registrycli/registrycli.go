// Package registrycli is the peer's client for the manifest registry
// collaborator (spec.md section 4.4 / section 6 "Registry protocol").
// The registry itself is out of scope (it is original_source/Server.py,
// kept only as reference in _examples); this package implements the two
// operations the peer consumes from it.
package registrycli

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lanshare/peer/internal/manifest"
	"github.com/lanshare/peer/internal/wire"
)

// ErrNotFound is returned by Fetch when the registry has no manifest for
// the requested root name.
var ErrNotFound = errors.New("registrycli: file not found")

// Client dials a manifest registry over TCP.
type Client struct {
	Addr    string
	Timeout time.Duration
}

// New returns a Client for addr with the given dial/round-trip timeout.
func New(addr string, timeout time.Duration) *Client {
	return &Client{Addr: addr, Timeout: timeout}
}

// Publish sends m to the registry. The wire form is the manifest JSON
// followed by a single space and the literal command token "add", per
// spec.md section 4.4, grounded directly on original_source/Server.py's
// handle_client 'add' branch.
func (c *Client) Publish(m *manifest.Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("registrycli: marshal manifest: %w", err)
	}

	resp, err := c.roundTrip(string(data) + " add")
	if err != nil {
		return err
	}
	if resp != "Added" {
		return fmt.Errorf("registrycli: unexpected publish response %q", resp)
	}
	return nil
}

// Fetch retrieves the manifest for root from the registry, or
// ErrNotFound if the registry holds none.
func (c *Client) Fetch(root string) (*manifest.Manifest, error) {
	resp, err := c.roundTrip(root + " get")
	if err != nil {
		return nil, err
	}
	if resp == "File not found" {
		return nil, ErrNotFound
	}

	m, err := manifest.Unmarshal([]byte(resp))
	if err != nil {
		return nil, fmt.Errorf("registrycli: fetch %s: %w", root, err)
	}
	return m, nil
}

func (c *Client) roundTrip(request string) (string, error) {
	conn, err := net.DialTimeout("tcp", c.Addr, c.Timeout)
	if err != nil {
		return "", fmt.Errorf("registrycli: dial %s: %w", c.Addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.Timeout)
	_ = conn.SetDeadline(deadline)

	if err := wire.WriteLine(conn, request); err != nil {
		return "", fmt.Errorf("registrycli: write request: %w", err)
	}

	resp, err := wire.ReadLine(bufio.NewReader(conn))
	if err != nil {
		return "", fmt.Errorf("registrycli: read response: %w", err)
	}
	return resp, nil
}
