// ABOUTME: Music source boundary
// ABOUTME: Yields a codec descriptor plus compressed packets with durations
package music

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
)

// Packet is one compressed unit ready for the wire, small enough to fit the
// packet budget after framing.
type Packet struct {
	Data       []byte
	DurationUs uint32
}

// Source produces a music stream for synced playback. The party core never
// parses file formats itself; it consumes this boundary.
type Source interface {
	// Format is the wire codec descriptor receivers build decoders from.
	Format() audio.Format
	// TotalPackets is the stream length, 0 when unknown.
	TotalPackets() uint64
	Title() string
	// Next returns the following packet, io.EOF at end of stream.
	Next() (Packet, error)
	Close() error
}

// MaxPacketPayload leaves framing headroom under the 1200-byte wire budget.
const MaxPacketPayload = 1100

// Open picks a source implementation by file extension.
func Open(path string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return OpenMP3(path)
	case ".flac":
		return OpenFLAC(path)
	default:
		return nil, fmt.Errorf("unsupported music file %q", path)
	}
}
