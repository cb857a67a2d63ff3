// Package hexfile moves Intel HEX firmware images over a robobus link. Each segment is
// announced by an 8-byte header chunk and followed by its data in frame-sized chunks.
package hexfile

import (
	"context"
	"encoding/binary"
	"io"
	"os"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"

	"github.com/LoveWonYoung/robobus/robobus"
)

const (
	headerMagic = 0xA5
	headerTag   = 'S'
	// HeaderSize is the length of a segment header chunk.
	HeaderSize = 8
	// MaxSegmentLength is the largest segment one header can announce.
	MaxSegmentLength = 0xFFFF

	hexLineLength = 16
)

// Segment is a contiguous run of image bytes.
type Segment struct {
	Address uint32
	Data    []byte
}

// Image is a parsed firmware image.
type Image struct {
	Segments []Segment
}

// Size is the number of data bytes across all segments.
func (img Image) Size() int {
	n := 0
	for _, s := range img.Segments {
		n += len(s.Data)
	}
	return n
}

// Load parses Intel HEX from r.
func Load(r io.Reader) (Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return Image{}, errors.Wrap(err, "failed to parse intel hex")
	}
	var img Image
	for _, seg := range mem.GetDataSegments() {
		img.Segments = append(img.Segments, Segment{Address: seg.Address, Data: seg.Data})
	}
	return img, nil
}

// LoadFile parses the Intel HEX file at path.
func LoadFile(path string) (Image, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return Image{}, errors.Wrapf(err, "failed to open %s", path)
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return Load(f)
}

// WriteHex renders the image as Intel HEX.
func (img Image) WriteHex(w io.Writer) error {
	mem := gohex.NewMemory()
	for _, s := range img.Segments {
		if err := mem.AddBinary(s.Address, s.Data); err != nil {
			return errors.Wrapf(err, "segment at 0x%08X", s.Address)
		}
	}
	return mem.DumpIntelHex(w, hexLineLength)
}

// SegmentHeader returns the chunk that announces a segment: 0xA5 'S' addr(4) len(2),
// big-endian.
func SegmentHeader(addr uint32, length uint16) [HeaderSize]byte {
	var h [HeaderSize]byte
	h[0] = headerMagic
	h[1] = headerTag
	binary.BigEndian.PutUint32(h[2:6], addr)
	binary.BigEndian.PutUint16(h[6:8], length)
	return h
}

// ParseSegmentHeader reverses SegmentHeader.
func ParseSegmentHeader(chunk []byte) (addr uint32, length uint16, ok bool) {
	if len(chunk) != HeaderSize || chunk[0] != headerMagic || chunk[1] != headerTag {
		return 0, 0, false
	}
	return binary.BigEndian.Uint32(chunk[2:6]), binary.BigEndian.Uint16(chunk[6:8]), true
}

// Pusher sends a byte run as consecutive chunks; node.Node implements it.
type Pusher interface {
	Push(ctx context.Context, data []byte) error
}

// Stream sends img through p. Segments longer than MaxSegmentLength go out as several
// announced pieces.
func Stream(ctx context.Context, p Pusher, img Image, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	sent := 0
	for _, seg := range img.Segments {
		addr := seg.Address
		for _, piece := range robobus.SplitBlock(seg.Data, MaxSegmentLength) {
			header := SegmentHeader(addr, uint16(len(piece)))
			if err := p.Push(ctx, header[:]); err != nil {
				return errors.Wrapf(err, "segment header at 0x%08X", addr)
			}
			if err := p.Push(ctx, piece); err != nil {
				return errors.Wrapf(err, "segment data at 0x%08X", addr)
			}
			sent += len(piece)
			logger.Infow("segment sent", "address", addr, "size", len(piece), "progress", sent, "total", img.Size())
			addr += uint32(len(piece))
		}
	}
	return nil
}

// Assembler rebuilds an image from the chunks Stream produces.
type Assembler struct {
	img       Image
	current   *Segment
	remaining int
}

// Feed consumes one received chunk. Chunks outside a segment must be headers.
func (a *Assembler) Feed(chunk []byte) error {
	if a.remaining == 0 {
		addr, length, ok := ParseSegmentHeader(chunk)
		if !ok {
			return errors.Errorf("expected segment header, got % X", chunk)
		}
		if length == 0 {
			return nil
		}
		a.img.Segments = append(a.img.Segments, Segment{Address: addr, Data: make([]byte, 0, length)})
		a.current = &a.img.Segments[len(a.img.Segments)-1]
		a.remaining = int(length)
		return nil
	}
	if len(chunk) > a.remaining {
		return errors.Errorf("chunk of %d bytes overruns segment with %d bytes left", len(chunk), a.remaining)
	}
	a.current.Data = append(a.current.Data, chunk...)
	a.remaining -= len(chunk)
	return nil
}

// Complete reports whether no segment is partially received.
func (a *Assembler) Complete() bool {
	return a.remaining == 0
}

// Image returns the segments received so far.
func (a *Assembler) Image() Image {
	return a.img
}
