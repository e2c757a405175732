// Package trackercli is the peer's HTTP JSON client for the tracker
// collaborator (spec.md section 4.3 / section 6 "Tracker HTTP API").
// Grounded on the teacher's SendHTTPTrackerRequest (torrent/tracker.go)
// for the http.Client-with-timeout and url.Values construction style,
// generalized from bencode-over-HTTP to JSON-over-HTTP, and on
// original_source/Client2.py's update_tracker_upload/
// update_tracker_download/get_peers_for_pieces/show_files_worker for the
// exact endpoints and payload shapes.
package trackercli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lanshare/peer/internal/peerlog"
)

// PeerAddr is a tracker-reported (ip, port) pair.
type PeerAddr struct {
	IP   string
	Port int
}

// --------------------------------------------------------------------------------------------- //

/*
UnmarshalJSON accepts the tracker's compact [ip, port] pair encoding.
It decodes a two-element JSON array rather than an object.

Parameters:
  - data: Raw JSON bytes, expected to be a [ip, port] array.

Returns:
  - error: Non-nil if data isn't a two-element array or the elements are
    the wrong type.
*/
func (p *PeerAddr) UnmarshalJSON(data []byte) error {
	var pair [2]any
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	ip, ok := pair[0].(string)
	if !ok {
		return fmt.Errorf("trackercli: peer ip is not a string: %v", pair[0])
	}
	portF, ok := pair[1].(float64)
	if !ok {
		return fmt.Errorf("trackercli: peer port is not a number: %v", pair[1])
	}
	p.IP = ip
	p.Port = int(portF)
	return nil
}

// FileDetail describes one file of a multi-file upload announcement.
type FileDetail struct {
	Name   string `json:"name"`
	Length int64  `json:"length"`
}

type announcePayload struct {
	PeerIP        string       `json:"peer_ip"`
	PeerPort      int          `json:"peer_port"`
	FileName      string       `json:"file_name"`
	PiecesIndices []int        `json:"pieces_indices"`
	FileDetails   []FileDetail `json:"file_details"`
}

// Client talks to a tracker's HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	PeerIP  string
	Port    int
}

// --------------------------------------------------------------------------------------------- //

/*
New returns a Client bound to baseURL, identifying the local peer as
(peerIP, port) in announcements.

Parameters:
  - baseURL: Tracker's HTTP base URL, trailing slash optional.
  - peerIP: This peer's address as advertised to the tracker.
  - port: This peer's piece-server listen port.
  - timeout: Per-request timeout for the underlying http.Client.

Returns:
  - *Client: Ready to announce and query this tracker.
*/
func New(baseURL, peerIP string, port int, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		PeerIP:  peerIP,
		Port:    port,
	}
}

// --------------------------------------------------------------------------------------------- //

/*
AnnounceUpload tells the tracker this peer now holds every piece of
fileName, per spec.md section 4.3 "Announce upload". Failures are
logged and swallowed: announcements are best-effort (spec.md section 7).

Parameters:
  - fileName: Root name of the uploaded object.
  - pieceIndices: Every piece index this peer now holds for fileName.
  - fileDetails: Per-file metadata for a multi-file upload, nil otherwise.

Returns:
  - (none): Errors are logged via peerlog, not returned.
*/
func (c *Client) AnnounceUpload(fileName string, pieceIndices []int, fileDetails []FileDetail) {
	payload := announcePayload{
		PeerIP:        c.PeerIP,
		PeerPort:      c.Port,
		FileName:      fileName,
		PiecesIndices: pieceIndices,
		FileDetails:   fileDetails,
	}
	c.postBestEffort("/peer-update", payload)
}

// --------------------------------------------------------------------------------------------- //

/*
AnnounceDownload tells the tracker this peer has just finished
downloading pieceIndices of fileName, per spec.md section 4.3
"Announce download completion". Best-effort, like AnnounceUpload.

Parameters:
  - fileName: Root name of the downloaded object.
  - pieceIndices: Every piece index this peer just finished downloading.

Returns:
  - (none): Errors are logged via peerlog, not returned.
*/
func (c *Client) AnnounceDownload(fileName string, pieceIndices []int) {
	payload := announcePayload{
		PeerIP:        c.PeerIP,
		PeerPort:      c.Port,
		FileName:      fileName,
		PiecesIndices: pieceIndices,
	}
	c.postBestEffort("/peer-update-download", payload)
}

func (c *Client) postBestEffort(path string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		peerlog.Error("trackercli: marshal %s payload: %v", path, err)
		return
	}

	resp, err := c.HTTP.Post(c.BaseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		peerlog.Warn("trackercli: %s: %v", path, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		peerlog.Warn("trackercli: %s: status %s", path, resp.Status)
	}
}

// --------------------------------------------------------------------------------------------- //

/*
LocatePeers asks the tracker which peers hold each piece in
pieceIndices of fileName, per spec.md section 4.3 "Locate peers". A
network failure here is fatal to the caller's download, unlike the
announce operations, so it is returned rather than swallowed.

Parameters:
  - fileName: Root name of the object being downloaded.
  - pieceIndices: Piece indices the caller needs a peer for.

Returns:
  - map[int][]PeerAddr: Candidate peers keyed by piece index; an index
    with no known holder is simply absent from the map.
  - error: Non-nil if the tracker request or response decoding fails.
*/
func (c *Client) LocatePeers(fileName string, pieceIndices []int) (map[int][]PeerAddr, error) {
	csv := make([]string, len(pieceIndices))
	for i, idx := range pieceIndices {
		csv[i] = strconv.Itoa(idx)
	}

	u := fmt.Sprintf("%s/get-peer?filename=%s&piece_indices=%s",
		c.BaseURL, url.QueryEscape(fileName), strings.Join(csv, ","))

	resp, err := c.HTTP.Get(u)
	if err != nil {
		return nil, fmt.Errorf("trackercli: get-peer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trackercli: get-peer: status %s", resp.Status)
	}

	var raw map[string][]PeerAddr
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("trackercli: decode get-peer response: %w", err)
	}

	out := make(map[int][]PeerAddr, len(raw))
	for k, v := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[idx] = v
	}
	return out, nil
}

// --------------------------------------------------------------------------------------------- //

/*
ListFiles returns the root names the tracker knows about, via GET
/show. This is the CLI's "list" subcommand support, descended from
original_source/Client2.py's show_files_worker (the GUI's "Show"
button) per SPEC_FULL.md section 9.

Parameters:
  - (none)

Returns:
  - []string: Root names currently known to the tracker.
  - error: Non-nil if the request or response decoding fails.
*/
func (c *Client) ListFiles() ([]string, error) {
	resp, err := c.HTTP.Get(c.BaseURL + "/show")
	if err != nil {
		return nil, fmt.Errorf("trackercli: show: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trackercli: show: status %s", resp.Status)
	}

	var body struct {
		Files []string `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("trackercli: decode show response: %w", err)
	}
	return body.Files, nil
}
