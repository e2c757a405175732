// Package store holds a peer's in-memory piece holdings: the pieces it
// has chunked from local uploads or assembled from downloads, indexed by
// root object name and piece index. Holdings are process-local and are
// not persisted across restarts (spec.md section 3, "Lifecycle").
package store

import (
	"sort"
	"sync"
)

// Holdings is the concurrency-safe mapping root_name -> piece_index ->
// piece bytes described in spec.md section 3. The teacher's
// TorrentFile.PeersMutex/DownloadMutex pair guards analogous shared state
// the same way: one RWMutex over one map, read by the piece server and
// written by upload/download completion.
type Holdings struct {
	mu   sync.RWMutex
	data map[string]map[int][]byte
}

// New returns an empty Holdings.
func New() *Holdings {
	return &Holdings{data: make(map[string]map[int][]byte)}
}

// Put stores the bytes of piece idx for root.
func (h *Holdings) Put(root string, idx int, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pieces, ok := h.data[root]
	if !ok {
		pieces = make(map[int][]byte)
		h.data[root] = pieces
	}
	pieces[idx] = data
}

// PutAll stores every piece in pieces for root.
func (h *Holdings) PutAll(root string, pieces map[int][]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing, ok := h.data[root]
	if !ok {
		existing = make(map[int][]byte)
		h.data[root] = existing
	}
	for idx, data := range pieces {
		existing[idx] = data
	}
}

// Get returns the bytes of piece idx for root, and whether it is held.
func (h *Holdings) Get(root string, idx int) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	pieces, ok := h.data[root]
	if !ok {
		return nil, false
	}
	data, ok := pieces[idx]
	return data, ok
}

// HasRoot reports whether any piece of root is held.
func (h *Holdings) HasRoot(root string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.data[root]
	return ok
}

// Indices returns the sorted piece indices held for root.
func (h *Holdings) Indices(root string) []int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	pieces, ok := h.data[root]
	if !ok {
		return nil
	}
	out := make([]int, 0, len(pieces))
	for idx := range pieces {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
