package trackercli_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lanshare/peer/internal/trackercli"
)

func TestLocatePeers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get-peer" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("filename"); got != "hello.bin" {
			t.Fatalf("filename = %q, want hello.bin", got)
		}
		if got := r.URL.Query().Get("piece_indices"); got != "0,1,2" {
			t.Fatalf("piece_indices = %q, want 0,1,2", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][][2]any{
			"0": {{"10.0.0.1", float64(5005)}},
			"2": {{"10.0.0.2", float64(5006)}},
		})
	}))
	defer srv.Close()

	c := trackercli.New(srv.URL, "10.0.0.9", 5005, time.Second)
	peers, err := c.LocatePeers("hello.bin", []int{0, 1, 2})
	if err != nil {
		t.Fatalf("LocatePeers: %v", err)
	}

	if len(peers[0]) != 1 || peers[0][0].IP != "10.0.0.1" || peers[0][0].Port != 5005 {
		t.Errorf("peers[0] = %+v", peers[0])
	}
	if _, ok := peers[1]; ok {
		t.Error("peers[1] present, want missing (tracker omitted it)")
	}
	if len(peers[2]) != 1 || peers[2][0].Port != 5006 {
		t.Errorf("peers[2] = %+v", peers[2])
	}
}

func TestAnnounceUploadBestEffortOnFailure(t *testing.T) {
	// No server listening at this address; AnnounceUpload must not panic
	// or block indefinitely, matching spec.md section 7's "log; best
	// effort" policy for tracker-announce failures.
	c := trackercli.New("http://127.0.0.1:1", "10.0.0.9", 5005, 200*time.Millisecond)
	c.AnnounceUpload("hello.bin", []int{0, 1, 2}, nil)
}

func TestListFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]string{"files": {"hello.bin", "docs"}})
	}))
	defer srv.Close()

	c := trackercli.New(srv.URL, "10.0.0.9", 5005, time.Second)
	files, err := c.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 || files[0] != "hello.bin" {
		t.Errorf("files = %v", files)
	}
}
