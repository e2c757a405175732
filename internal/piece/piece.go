// Package piece defines the protocol's fixed sizing and the pure
// index/byte-range arithmetic shared by the chunker, piece server and
// download engine.
package piece

// Size is the fixed piece length in bytes. Every peer on the network must
// agree on this value; it is not carried on the wire.
const Size int64 = 102400

// BlockSize is the fixed block length in bytes, half a piece.
const BlockSize int64 = Size / 2

// Index identifies a piece within an object, dense from 0.
type Index = int

// Count returns the number of pieces needed to cover totalBytes.
func Count(totalBytes int64) int {
	if totalBytes <= 0 {
		return 0
	}
	return int((totalBytes + Size - 1) / Size)
}

// ByteRange returns the inclusive [start, end] global byte range covered
// by piece index i of an object totalBytes long.
func ByteRange(i Index, totalBytes int64) (start, end int64) {
	start = int64(i) * Size
	end = start + Size - 1
	if last := totalBytes - 1; end > last {
		end = last
	}
	return start, end
}

// Length returns the length in bytes of piece index i of an object
// totalBytes long (the last piece may be shorter than Size).
func Length(i Index, totalBytes int64) int64 {
	start, end := ByteRange(i, totalBytes)
	return end - start + 1
}

// BlockCount returns the number of blocks in a piece of the given length.
func BlockCount(pieceLength int64) int {
	if pieceLength <= 0 {
		return 0
	}
	return int((pieceLength + BlockSize - 1) / BlockSize)
}

// BlockRange returns the [start, end) offsets of block b within a piece
// of the given length.
func BlockRange(b int, pieceLength int64) (start, end int64) {
	start = int64(b) * BlockSize
	end = start + BlockSize
	if end > pieceLength {
		end = pieceLength
	}
	return start, end
}
