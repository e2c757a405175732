// Package manifest defines the "torrent" record published to and fetched
// from the registry collaborator: a root name, per-piece SHA-1 hashes, and
// either a single length or a list of file entries.
//
// Single-file and multi-file objects are modeled as a tagged variant
// (Kind) rather than as two optional fields that both happen to be
// present in the JSON, per the observation in spec.md section 9 that
// the few behavioral variations in this system read better as tagged
// variants than as presence/absence of dictionary fields.
package manifest

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lanshare/peer/internal/piece"
)

// Kind distinguishes a single-file manifest from a multi-file one.
type Kind int

const (
	SingleFile Kind = iota
	MultiFile
)

// File is one entry of a multi-file manifest: its path components
// (prefixed with the manifest's root name), its length, and its position
// in the concatenated object stream.
type File struct {
	Path        []string `json:"path"`
	Length      int64    `json:"length"`
	StartOffset int64    `json:"start_offset"`
	EndOffset   int64    `json:"end_offset"`
	StartPiece  int      `json:"start_piece"`
	EndPiece    int      `json:"end_piece"`
}

// JoinedPath returns the file's path components joined with "/".
func (f File) JoinedPath() string {
	return strings.Join(f.Path, "/")
}

// Info is the manifest's "info" dictionary.
type Info struct {
	PieceLength int64  `json:"piece length"`
	Pieces      string `json:"pieces"`
	Name        string `json:"name"`

	// Length is set, and Files empty, for a single-file object.
	Length int64 `json:"length,omitempty"`
	// Files is set, and Length zero, for a multi-file object.
	Files []File `json:"files,omitempty"`
}

// Kind reports whether Info describes a single-file or multi-file object.
func (i Info) Kind() Kind {
	if len(i.Files) > 0 {
		return MultiFile
	}
	return SingleFile
}

// TotalBytes returns the object's total size in bytes.
func (i Info) TotalBytes() int64 {
	if i.Kind() == SingleFile {
		return i.Length
	}
	var total int64
	for _, f := range i.Files {
		total += f.Length
	}
	return total
}

// NumPieces returns the number of pieces the manifest describes, derived
// from the length of Pieces (each piece contributes a 40-hex-char SHA-1
// digest).
func (i Info) NumPieces() int {
	return len(i.Pieces) / 40
}

// PieceHash returns the hex SHA-1 digest of piece idx.
func (i Info) PieceHash(idx int) (string, error) {
	if idx < 0 || idx >= i.NumPieces() {
		return "", fmt.Errorf("manifest: piece index %d out of range [0,%d)", idx, i.NumPieces())
	}
	return i.Pieces[idx*40 : idx*40+40], nil
}

// Manifest is the "torrent" record.
type Manifest struct {
	Announce string `json:"announce"`
	Info     Info   `json:"info"`
}

// Marshal serializes m as JSON.
func (m *Manifest) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal parses JSON into m.
func Unmarshal(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the structural invariants from spec.md section 3:
// Pieces has the expected length, and multi-file entries lay out
// contiguously.
func (m *Manifest) Validate() error {
	total := m.Info.TotalBytes()
	wantLen := 40 * piece.Count(total)
	if len(m.Info.Pieces) != wantLen {
		return fmt.Errorf("manifest: info.pieces has %d chars, want %d for %d total bytes",
			len(m.Info.Pieces), wantLen, total)
	}

	if m.Info.Kind() == MultiFile {
		var offset int64
		for idx, f := range m.Info.Files {
			if f.StartOffset != offset {
				return fmt.Errorf("manifest: file %d (%s) starts at %d, want %d",
					idx, f.JoinedPath(), f.StartOffset, offset)
			}
			if f.EndOffset != offset+f.Length-1 {
				return fmt.Errorf("manifest: file %d (%s) ends at %d, want %d",
					idx, f.JoinedPath(), f.EndOffset, offset+f.Length-1)
			}
			offset += f.Length
		}
		if offset != total {
			return fmt.Errorf("manifest: files sum to %d bytes, total is %d", offset, total)
		}
	}

	return nil
}

// PieceRangeForPath resolves the inclusive range of piece indices covering
// subpath, per spec.md section 4.5 step 2. subpath is a path beginning
// with the manifest's root name. If subpath equals the root name, every
// piece is returned.
func (m *Manifest) PieceRangeForPath(subpath string) (start, end int, err error) {
	if subpath == m.Info.Name {
		return 0, m.Info.NumPieces() - 1, nil
	}

	if m.Info.Kind() == SingleFile {
		return 0, 0, fmt.Errorf("manifest: %q is a single-file object, only %q is valid", subpath, m.Info.Name)
	}

	for _, f := range m.Info.Files {
		if m.Info.Name+"/"+f.JoinedPath() == subpath || f.JoinedPath() == subpath {
			return f.StartPiece, f.EndPiece, nil
		}
	}
	return 0, 0, fmt.Errorf("manifest: no file entry matches %q", subpath)
}

// FileForPath returns the file entry exactly matching subpath, if any.
func (m *Manifest) FileForPath(subpath string) (File, bool) {
	for _, f := range m.Info.Files {
		if m.Info.Name+"/"+f.JoinedPath() == subpath || f.JoinedPath() == subpath {
			return f, true
		}
	}
	return File{}, false
}

// HashPieces computes the concatenated hex SHA-1 digest of pieces, in
// order, as stored in Info.Pieces.
func HashPieces(pieces [][]byte) string {
	var sb strings.Builder
	sb.Grow(len(pieces) * 40)
	for _, p := range pieces {
		sum := sha1.Sum(p)
		sb.WriteString(hex.EncodeToString(sum[:]))
	}
	return sb.String()
}
