// ABOUTME: FLAC music source
// ABOUTME: Ships raw container bytes in wire-sized chunks for pass-through
package music

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mewkiz/flac"
	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
)

// FLACSource chunks the raw container stream. The receiver feeds chunks into
// a streaming FLAC decoder, so the first packets necessarily carry the fLaC
// marker and stream info; that is why this codec leans on retransmission
// harder than MP3.
type FLACSource struct {
	data    []byte
	offset  int
	format  audio.Format
	title   string
	packets uint64
	durUs   uint32
}

// OpenFLAC loads a FLAC file and reads its stream info.
func OpenFLAC(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("not a flac stream: %w", err)
	}
	info := stream.Info
	f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	packets := uint64((len(data) + MaxPacketPayload - 1) / MaxPacketPayload)
	if packets == 0 {
		return nil, fmt.Errorf("empty flac file %s", path)
	}

	// Spread the track duration evenly over the byte chunks; scheduling
	// only needs the aggregate pacing to be right.
	var durUs uint32
	if info.NSamples > 0 {
		totalUs := info.NSamples * 1_000_000 / uint64(info.SampleRate)
		durUs = uint32(totalUs / packets)
	}

	return &FLACSource{
		data:    data,
		title:   filepath.Base(path),
		packets: packets,
		durUs:   durUs,
		format: audio.Format{
			Codec:      audio.CodecFLAC,
			SampleRate: int(info.SampleRate),
			Channels:   int(info.NChannels),
		},
	}, nil
}

// Format returns the wire codec descriptor.
func (s *FLACSource) Format() audio.Format { return s.format }

// TotalPackets returns the chunk count.
func (s *FLACSource) TotalPackets() uint64 { return s.packets }

// Title returns the file name.
func (s *FLACSource) Title() string { return s.title }

// Next returns the following chunk of container bytes.
func (s *FLACSource) Next() (Packet, error) {
	if s.offset >= len(s.data) {
		return Packet{}, io.EOF
	}
	end := s.offset + MaxPacketPayload
	if end > len(s.data) {
		end = len(s.data)
	}
	p := Packet{Data: s.data[s.offset:end], DurationUs: s.durUs}
	s.offset = end
	return p, nil
}

// Close releases the source.
func (s *FLACSource) Close() error {
	s.data = nil
	return nil
}
