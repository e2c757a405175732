package wire_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/lanshare/peer/internal/wire"
)

func TestLineRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := wire.WriteLine(&buf, "42-0 hello.bin block"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}

	got, err := wire.ReadLine(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if got != "42-0 hello.bin block" {
		t.Fatalf("ReadLine = %q, want %q", got, "42-0 hello.bin block")
	}
}

func TestBlockRoundTripIncludingEmpty(t *testing.T) {
	cases := [][]byte{
		[]byte("hello world"),
		{},
		bytes.Repeat([]byte{0x42}, 51200),
	}

	for _, data := range cases {
		var buf bytes.Buffer
		if err := wire.WriteBlock(&buf, data); err != nil {
			t.Fatalf("WriteBlock: %v", err)
		}

		got, err := wire.ReadBlock(&buf)
		if err != nil {
			t.Fatalf("ReadBlock: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("ReadBlock round trip = %d bytes, want %d bytes", len(got), len(data))
		}
	}
}

func TestReadBlockRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 0xff, 0xff, 0xff}) // huge declared length, no payload

	if _, err := wire.ReadBlock(&buf); err == nil {
		t.Fatal("ReadBlock accepted an oversized length prefix")
	}
}
