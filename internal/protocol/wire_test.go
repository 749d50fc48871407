// ABOUTME: Unit tests for wire serialization
// ABOUTME: Tests round trips, size budget and malformed packet rejection
package protocol

import (
	"bytes"
	"errors"
	"net"
	"reflect"
	"testing"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
)

func v4Host() HostID { return HostIDFromIP(net.ParseIP("192.168.1.10")) }
func v6Host() HostID { return HostIDFromIP(net.ParseIP("fe80::1234")) }

func TestRoundTripAllVariants(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
	}{
		{
			name: "realtime mic v4",
			packet: Realtime{
				Host:    v4Host(),
				Kind:    KindMic,
				Seq:     42,
				Payload: []byte{0x01, 0x02, 0x03},
			},
		},
		{
			name: "realtime system v6",
			packet: Realtime{
				Host:    v6Host(),
				Kind:    KindSystem,
				Seq:     1 << 40,
				Payload: bytes.Repeat([]byte{0xAB}, 600),
			},
		},
		{
			name: "synced",
			packet: Synced{
				Host:     v4Host(),
				Stream:   0xDEADBEEF12345678,
				Seq:      7,
				PlayAtUs: 1_700_000_000_000_000,
				DurUs:    20000,
				Payload:  []byte{9, 8, 7},
			},
		},
		{
			name: "synced meta",
			packet: SyncedMeta{
				Host:   v4Host(),
				Stream: 99,
				Format: audio.Format{
					Codec:       audio.CodecMP3,
					SampleRate:  44100,
					Channels:    2,
					CodecHeader: []byte{0xFF, 0xFB},
				},
				TotalFrames: 12345,
				Title:       "song.mp3",
			},
		},
		{
			name: "synced meta no header",
			packet: SyncedMeta{
				Host:   v6Host(),
				Stream: 1,
				Format: audio.Format{
					Codec:      audio.CodecOpus,
					SampleRate: 48000,
					Channels:   2,
				},
			},
		},
		{
			name: "synced control seek",
			packet: SyncedControl{
				Host:   v4Host(),
				Stream: 3,
				Op:     OpSeek,
				PosUs:  5_000_000,
			},
		},
		{
			name: "request frames",
			packet: RequestFrames{
				Requester: v4Host(),
				Target:    v6Host(),
				Stream:    3,
				FirstSeq:  100,
				Count:     16,
			},
		},
		{
			name: "ntp request",
			packet: Ntp{
				Phase:    PhaseRequest,
				OriginTs: 123456789,
			},
		},
		{
			name: "ntp response",
			packet: Ntp{
				Phase:    PhaseResponse,
				OriginTs: 1,
				RecvTs:   2,
				TxTs:     3,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.packet)
			if err != nil {
				t.Fatalf("Marshal() failed: %v", err)
			}
			if len(data) > MaxPacketSize {
				t.Fatalf("Marshal() produced %d bytes, budget is %d", len(data), MaxPacketSize)
			}
			if Tag(data[0]) != tt.packet.Tag() {
				t.Errorf("tag byte = %d, want %d", data[0], tt.packet.Tag())
			}

			decoded, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() failed: %v", err)
			}
			if !reflect.DeepEqual(normalize(decoded), normalize(tt.packet)) {
				t.Errorf("round trip mismatch:\n got %#v\nwant %#v", decoded, tt.packet)
			}
		})
	}
}

// normalize maps empty payload views to nil so DeepEqual compares semantics,
// not backing-array identity.
func normalize(p Packet) Packet {
	switch v := p.(type) {
	case Realtime:
		if len(v.Payload) == 0 {
			v.Payload = nil
		} else {
			v.Payload = append([]byte(nil), v.Payload...)
		}
		return v
	case Synced:
		if len(v.Payload) == 0 {
			v.Payload = nil
		} else {
			v.Payload = append([]byte(nil), v.Payload...)
		}
		return v
	case SyncedMeta:
		if len(v.Format.CodecHeader) == 0 {
			v.Format.CodecHeader = nil
		}
		return v
	default:
		return p
	}
}

func TestMarshalRejectsOversize(t *testing.T) {
	p := Realtime{
		Host:    v4Host(),
		Kind:    KindMic,
		Seq:     1,
		Payload: bytes.Repeat([]byte{1}, MaxPacketSize),
	}
	if _, err := Marshal(p); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Marshal(oversize) error = %v, want ErrTooLarge", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := Marshal(Realtime{Host: v4Host(), Kind: KindMic, Seq: 1, Payload: []byte{1, 2}})
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown tag", []byte{0xFF, 0x00}},
		{"tag only", []byte{byte(TagRealtime)}},
		{"truncated header", valid[:5]},
		{"truncated payload", valid[:len(valid)-1]},
		{"trailing bytes", append(append([]byte(nil), valid...), 0x00)},
		{"bad host length", []byte{byte(TagRealtime), 7, 1, 2, 3, 4, 5, 6, 7}},
		{"oversize", bytes.Repeat([]byte{byte(TagNtp)}, MaxPacketSize+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestDecodeBadCodecTag(t *testing.T) {
	data, err := Marshal(SyncedMeta{
		Host:   v4Host(),
		Stream: 1,
		Format: audio.Format{Codec: audio.CodecOpus, SampleRate: 48000, Channels: 2},
	})
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	// The codec tag sits right after host (1+4) and stream (8).
	data[1+5+8] = 200
	if _, err := Decode(data); !errors.Is(err, ErrMalformed) {
		t.Errorf("Decode(bad codec) error = %v, want ErrMalformed", err)
	}
}

func TestDecodeBadControlOp(t *testing.T) {
	data, err := Marshal(SyncedControl{Host: v4Host(), Stream: 1, Op: OpPlay})
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	data[1+5+8] = 99
	if _, err := Decode(data); !errors.Is(err, ErrMalformed) {
		t.Errorf("Decode(bad op) error = %v, want ErrMalformed", err)
	}
}

func TestHostIDEcho(t *testing.T) {
	h := HostIDFromIP(net.ParseIP("10.0.0.7"))
	if h.IsZero() {
		t.Fatal("HostIDFromIP() returned zero id")
	}
	if got := h.IP().String(); got != "10.0.0.7" {
		t.Errorf("IP() = %s, want 10.0.0.7", got)
	}

	same := HostIDFromIP(net.ParseIP("10.0.0.7"))
	if h != same {
		t.Error("equal addresses produced unequal HostIDs")
	}
	other := HostIDFromIP(net.ParseIP("10.0.0.8"))
	if h == other {
		t.Error("different addresses produced equal HostIDs")
	}
}

func TestPayloadIsViewIntoInput(t *testing.T) {
	data, err := Marshal(Realtime{Host: v4Host(), Kind: KindMic, Seq: 1, Payload: []byte{1, 2, 3, 4}})
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	rt := decoded.(Realtime)

	// Mutating the receive buffer shows through the view: decode is
	// zero-copy.
	data[len(data)-1] = 99
	if rt.Payload[3] != 99 {
		t.Error("payload was copied, expected a view into the input buffer")
	}
}
