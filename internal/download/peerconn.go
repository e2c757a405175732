package download

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/lanshare/peer/internal/trackercli"
	"github.com/lanshare/peer/internal/wire"
)

// fetchLength dials peer and asks for the length of piece idx of root,
// per spec.md section 6 "<root> <piece_index> length".
func fetchLength(peer trackercli.PeerAddr, root string, idx int, timeout time.Duration) (int64, error) {
	conn, err := net.DialTimeout("tcp", addrOf(peer), timeout)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if err := wire.WriteLine(conn, fmt.Sprintf("%s %d length", root, idx)); err != nil {
		return 0, err
	}

	resp, err := wire.ReadLine(bufio.NewReader(conn))
	if err != nil {
		return 0, err
	}
	if resp == "" {
		return 0, fmt.Errorf("download: empty length response from %s", addrOf(peer))
	}

	length, err := strconv.ParseInt(resp, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("download: invalid length response %q from %s: %w", resp, addrOf(peer), err)
	}
	return length, nil
}

// fetchBlock dials peer and requests the block at offset within piece
// idx of root, per spec.md section 6
// "<piece_index>-<block_offset> <root> block".
func fetchBlock(peer trackercli.PeerAddr, root string, idx int, offset int64, timeout time.Duration) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", addrOf(peer), timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if err := wire.WriteLine(conn, fmt.Sprintf("%d-%d %s block", idx, offset, root)); err != nil {
		return nil, err
	}

	data, err := wire.ReadBlock(conn)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func addrOf(p trackercli.PeerAddr) string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}
