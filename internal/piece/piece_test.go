package piece_test

import (
	"testing"

	"github.com/lanshare/peer/internal/piece"
)

func TestCount(t *testing.T) {
	tests := []struct {
		total int64
		want  int
	}{
		{0, 0},
		{1, 1},
		{piece.Size, 1},
		{piece.Size + 1, 2},
		{250000, 3},
		{140000, 2},
	}

	for _, tt := range tests {
		if got := piece.Count(tt.total); got != tt.want {
			t.Errorf("Count(%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}

func TestByteRangeAndLength(t *testing.T) {
	const total = 250000 // 3 pieces: 102400, 102400, 45200

	start, end := piece.ByteRange(0, total)
	if start != 0 || end != 102399 {
		t.Errorf("piece 0 range = [%d,%d], want [0,102399]", start, end)
	}

	start, end = piece.ByteRange(2, total)
	if start != 204800 || end != 249999 {
		t.Errorf("piece 2 range = [%d,%d], want [204800,249999]", start, end)
	}

	if l := piece.Length(2, total); l != 45200 {
		t.Errorf("piece 2 length = %d, want 45200", l)
	}
}

func TestBlockRange(t *testing.T) {
	if n := piece.BlockCount(102400); n != 2 {
		t.Errorf("BlockCount(102400) = %d, want 2", n)
	}

	if n := piece.BlockCount(45200); n != 1 {
		t.Errorf("BlockCount(45200) = %d, want 1", n)
	}

	start, end := piece.BlockRange(1, 102400)
	if start != 51200 || end != 102400 {
		t.Errorf("BlockRange(1, 102400) = [%d,%d), want [51200,102400)", start, end)
	}

	start, end = piece.BlockRange(0, 45200)
	if start != 0 || end != 45200 {
		t.Errorf("BlockRange(0, 45200) = [%d,%d), want [0,45200)", start, end)
	}
}
