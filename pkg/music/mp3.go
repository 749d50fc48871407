// ABOUTME: MP3 music source
// ABOUTME: Splits a file into MPEG audio frames for codec pass-through
package music

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
)

// MPEG layer III tables. Row 0 is MPEG-1, row 1 covers MPEG-2/2.5.
var mp3Bitrates = [2][16]int{
	{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0},
	{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
}

var mp3SampleRates = map[byte][3]int{
	3: {44100, 48000, 32000}, // MPEG-1
	2: {22050, 24000, 16000}, // MPEG-2
	0: {11025, 12000, 8000},  // MPEG-2.5
}

// MP3Source walks the file's MPEG frames without re-encoding: the frames go
// onto the wire as-is and the receiver's decoder plays them back.
type MP3Source struct {
	data    []byte
	offset  int
	format  audio.Format
	title   string
	packets uint64
}

// OpenMP3 loads and indexes an MP3 file.
func OpenMP3(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	data = skipID3(data)

	// go-mp3 confirms the stream decodes and reports the output rate; its
	// output is always 16-bit stereo.
	probe, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("not a decodable mp3: %w", err)
	}

	s := &MP3Source{
		data:  data,
		title: filepath.Base(path),
		format: audio.Format{
			Codec:      audio.CodecMP3,
			SampleRate: probe.SampleRate(),
			Channels:   2,
		},
	}

	// Pre-count frames for progress reporting.
	count := uint64(0)
	for off := 0; ; {
		frame, next := nextFrame(data, off)
		if frame == nil {
			break
		}
		count++
		off = next
	}
	if count == 0 {
		return nil, fmt.Errorf("no MPEG frames found in %s", path)
	}
	s.packets = count

	return s, nil
}

// Format returns the wire codec descriptor.
func (s *MP3Source) Format() audio.Format { return s.format }

// TotalPackets returns the frame count.
func (s *MP3Source) TotalPackets() uint64 { return s.packets }

// Title returns the file name.
func (s *MP3Source) Title() string { return s.title }

// Next returns one MPEG frame. At 44.1 kHz or 48 kHz a frame stays near or
// under 1 kB even at 320 kbps; lower sample rates give longer frames (1440
// bytes at 32 kHz and 320 kbps), and frame length is not checked here.
func (s *MP3Source) Next() (Packet, error) {
	frame, next := nextFrame(s.data, s.offset)
	if frame == nil {
		return Packet{}, io.EOF
	}
	s.offset = next

	samples := 1152
	if frame.version != 3 {
		samples = 576
	}
	durUs := uint32(uint64(samples) * 1_000_000 / uint64(frame.sampleRate))

	return Packet{Data: frame.bytes, DurationUs: durUs}, nil
}

// Close releases the source.
func (s *MP3Source) Close() error {
	s.data = nil
	return nil
}

type mpegFrame struct {
	bytes      []byte
	version    byte
	sampleRate int
}

// nextFrame scans for the next valid layer III frame header at or after off.
func nextFrame(data []byte, off int) (*mpegFrame, int) {
	for off+4 <= len(data) {
		if data[off] != 0xFF || data[off+1]&0xE0 != 0xE0 {
			off++
			continue
		}

		version := data[off+1] >> 3 & 0x3 // 3=MPEG1, 2=MPEG2, 0=MPEG2.5
		layer := data[off+1] >> 1 & 0x3   // 1 = layer III
		if version == 1 || layer != 1 {
			off++
			continue
		}

		bitrateIdx := data[off+2] >> 4
		rateIdx := data[off+2] >> 2 & 0x3
		padding := int(data[off+2] >> 1 & 0x1)
		if bitrateIdx == 0 || bitrateIdx == 15 || rateIdx == 3 {
			off++
			continue
		}

		tableRow := 0
		factor := 144
		if version != 3 {
			tableRow = 1
			factor = 72
		}
		bitrate := mp3Bitrates[tableRow][bitrateIdx] * 1000
		sampleRate := mp3SampleRates[version][rateIdx]

		frameLen := factor*bitrate/sampleRate + padding
		if frameLen < 4 || off+frameLen > len(data) {
			off++
			continue
		}

		return &mpegFrame{
			bytes:      data[off : off+frameLen],
			version:    version,
			sampleRate: sampleRate,
		}, off + frameLen
	}
	return nil, len(data)
}

// skipID3 steps over a leading ID3v2 tag.
func skipID3(data []byte) []byte {
	if len(data) < 10 || !bytes.Equal(data[:3], []byte("ID3")) {
		return data
	}
	size := int(data[6]&0x7F)<<21 | int(data[7]&0x7F)<<14 | int(data[8]&0x7F)<<7 | int(data[9]&0x7F)
	if 10+size > len(data) {
		return data
	}
	return data[10+size:]
}
