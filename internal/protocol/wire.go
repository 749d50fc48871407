// ABOUTME: Wire serialization
// ABOUTME: Length-checked little-endian layout with zero-copy payload views
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed marks a packet that failed validation. Malformed packets are
// silently dropped by the dispatcher, which increments a counter.
var ErrMalformed = errors.New("malformed packet")

// ErrTooLarge marks a packet that would exceed MaxPacketSize on the wire.
var ErrTooLarge = errors.New("packet exceeds wire size budget")

// Marshal serializes a packet. The result is a single UDP payload.
func Marshal(p Packet) ([]byte, error) {
	buf := make([]byte, 1, 256)
	buf[0] = byte(p.Tag())
	buf, err := p.appendTo(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(buf))
	}
	return buf, nil
}

// Decode parses one UDP payload. Payload fields of the returned packet alias
// the input buffer; callers that keep them past the next socket read must
// copy. Length and tag are validated before any field access.
func Decode(b []byte) (Packet, error) {
	if len(b) == 0 || len(b) > MaxPacketSize {
		return nil, fmt.Errorf("%w: length %d", ErrMalformed, len(b))
	}

	r := reader{b: b[1:]}
	switch Tag(b[0]) {
	case TagRealtime:
		p := Realtime{
			Host: r.hostID(),
			Kind: Kind(r.u8()),
			Seq:  r.u64(),
		}
		p.Payload = r.lenBytes()
		return p, r.finish()
	case TagSynced:
		p := Synced{
			Host:     r.hostID(),
			Stream:   r.u64(),
			Seq:      r.u64(),
			PlayAtUs: r.u64(),
			DurUs:    r.u32(),
		}
		p.Payload = r.lenBytes()
		return p, r.finish()
	case TagSyncedMeta:
		p := SyncedMeta{
			Host:   r.hostID(),
			Stream: r.u64(),
		}
		codecTag := r.u8()
		p.Format.SampleRate = int(r.u32())
		p.Format.Channels = int(r.u8())
		p.TotalFrames = r.u64()
		header := r.lenBytes()
		p.Title = string(r.lenBytes())
		if err := r.finish(); err != nil {
			return nil, err
		}
		codec, ok := tagCodecs[codecTag]
		if !ok {
			return nil, fmt.Errorf("%w: codec tag %d", ErrMalformed, codecTag)
		}
		p.Format.Codec = codec
		if len(header) > 0 {
			p.Format.CodecHeader = append([]byte(nil), header...)
		}
		return p, nil
	case TagSyncedControl:
		p := SyncedControl{
			Host:   r.hostID(),
			Stream: r.u64(),
			Op:     ControlOp(r.u8()),
			PosUs:  r.u64(),
		}
		if p.Op > OpStop {
			return nil, fmt.Errorf("%w: control op %d", ErrMalformed, p.Op)
		}
		return p, r.finish()
	case TagRequestFrames:
		p := RequestFrames{
			Requester: r.hostID(),
			Target:    r.hostID(),
			Stream:    r.u64(),
			FirstSeq:  r.u64(),
			Count:     r.u16(),
		}
		return p, r.finish()
	case TagNtp:
		p := Ntp{
			Phase:    NtpPhase(r.u8()),
			OriginTs: r.u64(),
			RecvTs:   r.u64(),
			TxTs:     r.u64(),
		}
		if p.Phase > PhaseResponse {
			return nil, fmt.Errorf("%w: ntp phase %d", ErrMalformed, p.Phase)
		}
		return p, r.finish()
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrMalformed, b[0])
	}
}

func (p Realtime) appendTo(b []byte) ([]byte, error) {
	b = appendHostID(b, p.Host)
	b = append(b, byte(p.Kind))
	b = binary.LittleEndian.AppendUint64(b, p.Seq)
	return appendLenBytes(b, p.Payload)
}

func (p Synced) appendTo(b []byte) ([]byte, error) {
	b = appendHostID(b, p.Host)
	b = binary.LittleEndian.AppendUint64(b, p.Stream)
	b = binary.LittleEndian.AppendUint64(b, p.Seq)
	b = binary.LittleEndian.AppendUint64(b, p.PlayAtUs)
	b = binary.LittleEndian.AppendUint32(b, p.DurUs)
	return appendLenBytes(b, p.Payload)
}

func (p SyncedMeta) appendTo(b []byte) ([]byte, error) {
	codecTag, ok := codecTags[p.Format.Codec]
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", p.Format.Codec)
	}
	b = appendHostID(b, p.Host)
	b = binary.LittleEndian.AppendUint64(b, p.Stream)
	b = append(b, codecTag)
	b = binary.LittleEndian.AppendUint32(b, uint32(p.Format.SampleRate))
	b = append(b, byte(p.Format.Channels))
	b = binary.LittleEndian.AppendUint64(b, p.TotalFrames)
	b, err := appendLenBytes(b, p.Format.CodecHeader)
	if err != nil {
		return nil, err
	}
	return appendLenBytes(b, []byte(p.Title))
}

func (p SyncedControl) appendTo(b []byte) ([]byte, error) {
	b = appendHostID(b, p.Host)
	b = binary.LittleEndian.AppendUint64(b, p.Stream)
	b = append(b, byte(p.Op))
	b = binary.LittleEndian.AppendUint64(b, p.PosUs)
	return b, nil
}

func (p RequestFrames) appendTo(b []byte) ([]byte, error) {
	b = appendHostID(b, p.Requester)
	b = appendHostID(b, p.Target)
	b = binary.LittleEndian.AppendUint64(b, p.Stream)
	b = binary.LittleEndian.AppendUint64(b, p.FirstSeq)
	b = binary.LittleEndian.AppendUint16(b, p.Count)
	return b, nil
}

func (p Ntp) appendTo(b []byte) ([]byte, error) {
	b = append(b, byte(p.Phase))
	b = binary.LittleEndian.AppendUint64(b, p.OriginTs)
	b = binary.LittleEndian.AppendUint64(b, p.RecvTs)
	b = binary.LittleEndian.AppendUint64(b, p.TxTs)
	return b, nil
}

func appendHostID(b []byte, h HostID) []byte {
	b = append(b, h.n)
	return append(b, h.addr[:h.n]...)
}

func appendLenBytes(b, payload []byte) ([]byte, error) {
	if len(payload) > 0xFFFF {
		return nil, fmt.Errorf("payload too large: %d", len(payload))
	}
	b = binary.LittleEndian.AppendUint16(b, uint16(len(payload)))
	return append(b, payload...), nil
}

// reader walks the wire bytes, latching the first failure so callers can
// read a whole header and check the error once.
type reader struct {
	b      []byte
	off    int
	failed bool
}

func (r *reader) take(n int) []byte {
	if r.failed || r.off+n > len(r.b) {
		r.failed = true
		return nil
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) u8() byte {
	v := r.take(1)
	if v == nil {
		return 0
	}
	return v[0]
}

func (r *reader) u16() uint16 {
	v := r.take(2)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(v)
}

func (r *reader) u32() uint32 {
	v := r.take(4)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(v)
}

func (r *reader) u64() uint64 {
	v := r.take(8)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(v)
}

// lenBytes reads a u16-length-prefixed byte run as a view into the input.
func (r *reader) lenBytes() []byte {
	n := int(r.u16())
	return r.take(n)
}

func (r *reader) hostID() HostID {
	var h HostID
	n := r.u8()
	if n != 4 && n != 16 {
		r.failed = true
		return h
	}
	addr := r.take(int(n))
	if addr == nil {
		return HostID{}
	}
	h.n = n
	copy(h.addr[:], addr)
	return h
}

// finish validates that the packet parsed cleanly and was fully consumed.
func (r *reader) finish() error {
	if r.failed {
		return fmt.Errorf("%w: truncated", ErrMalformed)
	}
	if r.off != len(r.b) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.b)-r.off)
	}
	return nil
}
