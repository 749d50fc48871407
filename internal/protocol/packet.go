// ABOUTME: Wire packet type definitions
// ABOUTME: Tagged packet union binding peers on the multicast group
package protocol

import (
	"fmt"
	"net"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
)

// MaxPacketSize keeps every UDP payload under typical path MTU without
// fragmentation. Producers that would exceed it split logically.
const MaxPacketSize = 1200

// Tag identifies the packet variant in the first wire byte.
type Tag byte

const (
	TagRealtime Tag = iota
	TagSynced
	TagSyncedMeta
	TagSyncedControl
	TagRequestFrames
	TagNtp
)

// Kind distinguishes realtime stream sources from one host.
type Kind byte

const (
	KindMic Kind = iota
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindMic:
		return "mic"
	case KindSystem:
		return "system"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// ControlOp mutates a synced stream's state machine.
type ControlOp byte

const (
	OpPlay ControlOp = iota
	OpPause
	OpSeek
	OpStop
)

// NtpPhase marks clock exchange direction.
type NtpPhase byte

const (
	PhaseRequest NtpPhase = iota
	PhaseResponse
)

// HostID is the sender's IP address, lifted from the UDP source address and
// echoed in the packet for validation. Comparable, usable as a map key.
type HostID struct {
	n    byte
	addr [16]byte
}

// HostIDFromIP builds a HostID from an IPv4 or IPv6 address.
func HostIDFromIP(ip net.IP) HostID {
	var h HostID
	if v4 := ip.To4(); v4 != nil {
		h.n = 4
		copy(h.addr[:4], v4)
		return h
	}
	h.n = 16
	copy(h.addr[:], ip.To16())
	return h
}

// IP returns the address as a net.IP.
func (h HostID) IP() net.IP {
	if h.n == 4 {
		return net.IP(h.addr[:4])
	}
	return net.IP(h.addr[:])
}

// IsZero reports an unset HostID.
func (h HostID) IsZero() bool {
	return h.n == 0
}

func (h HostID) String() string {
	if h.IsZero() {
		return "?"
	}
	return h.IP().String()
}

// Wire codec tags for SyncedMeta. aac and vorbis are recognized here but
// rejected at decoder construction.
var codecTags = map[string]byte{
	audio.CodecOpus:   0,
	audio.CodecMP3:    1,
	audio.CodecAAC:    2,
	audio.CodecFLAC:   3,
	audio.CodecVorbis: 4,
	audio.CodecPCM:    5,
}

var tagCodecs = map[byte]string{
	0: audio.CodecOpus,
	1: audio.CodecMP3,
	2: audio.CodecAAC,
	3: audio.CodecFLAC,
	4: audio.CodecVorbis,
	5: audio.CodecPCM,
}

// Packet is one member of the tagged wire union.
type Packet interface {
	Tag() Tag
	appendTo(b []byte) ([]byte, error)
}

// Realtime carries one Opus frame of live mic or system audio.
type Realtime struct {
	Host    HostID
	Kind    Kind
	Seq     uint64
	Payload []byte
}

func (Realtime) Tag() Tag { return TagRealtime }

// Synced carries one compressed music packet scheduled for a shared
// playback deadline on the network epoch.
type Synced struct {
	Host     HostID
	Stream   uint64
	Seq      uint64
	PlayAtUs uint64
	DurUs    uint32
	Payload  []byte
}

func (Synced) Tag() Tag { return TagSynced }

// SyncedMeta repeats the wire codec descriptor so late joiners can build a
// decoder without the source file. Sent periodically at >= 2 Hz.
type SyncedMeta struct {
	Host        HostID
	Stream      uint64
	Format      audio.Format
	TotalFrames uint64
	Title       string
}

func (SyncedMeta) Tag() Tag { return TagSyncedMeta }

// SyncedControl mutates the stream state machine on every receiver.
type SyncedControl struct {
	Host   HostID
	Stream uint64
	Op     ControlOp
	PosUs  uint64
}

func (SyncedControl) Tag() Tag { return TagSyncedControl }

// RequestFrames asks a music originator to retransmit a run of sequences.
// Only scheduled music may request retransmits; live voice never does.
type RequestFrames struct {
	Requester HostID
	Target    HostID
	Stream    uint64
	FirstSeq  uint64
	Count     uint16
}

func (RequestFrames) Tag() Tag { return TagRequestFrames }

// Ntp is one leg of the clock offset exchange.
type Ntp struct {
	Phase    NtpPhase
	OriginTs uint64
	RecvTs   uint64
	TxTs     uint64
}

func (Ntp) Tag() Tag { return TagNtp }
